/*
Package security keeps credential material encrypted at rest.

A DEFINE ACCESS entry of kind JWT carries a signing secret. The catalog
never holds that secret in the clear: the session bridge seals it
through a SecretsManager before the definition is stored, and opens it
again whenever a token for that access method is signed or verified.
The same manager protects any
other named credential the datastore persists.

# Architecture

	┌──────────────── SECRETS AT REST ─────────────────┐
	│                                                    │
	│  config jwtSecret ──▶ SHA-256 ──▶ 32-byte master   │
	│                                   key (AES-256)    │
	│                                                    │
	│  DEFINE ACCESS ──▶ Encrypt(secret) ──▶ catalog     │
	│                                                    │
	│  authenticate ──▶ Decrypt(sealed) ──▶ verify JWT   │
	└────────────────────────────────────────────────────┘

Encryption is AES-256-GCM with a random nonce prepended to each
ciphertext, so sealing the same secret twice never yields the same
bytes.

# Usage

	sm, err := security.NewSecretsManagerFromPassphrase(cfg.JWTSecret)
	sealed, err := sm.Seal("token_auth", signingSecret)
	plain, err := sm.Open(sealed)
*/
package security
