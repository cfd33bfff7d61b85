package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/kerr"
)

// Claims is the JWT payload nexus issues: a handful of identity fields
// embedded in jwt.RegisteredClaims so exp/iat/nbf/iss are validated by
// the library instead of by hand.
type Claims struct {
	NS    string   `json:"ns"`
	DB    string   `json:"db"`
	AC    string   `json:"ac,omitempty"`
	User  string   `json:"user"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// authenticator is Bridge's JWT/password collaborator.
type authenticator struct {
	secret            []byte
	expiration        time.Duration
	refreshExpiration time.Duration
	issuer            string
}

func newAuthenticator(secret []byte) *authenticator {
	if len(secret) == 0 {
		secret = []byte("nexus-dev-signing-secret")
	}
	return &authenticator{
		secret:            secret,
		expiration:        15 * time.Minute,
		refreshExpiration: 30 * 24 * time.Hour,
		issuer:            "nexus",
	}
}

func (a *authenticator) issue(ns, db, user string, roles []string, ttl time.Duration) (string, error) {
	return a.issueWith(a.secret, "", ns, db, user, roles, ttl)
}

// issueWith signs a token with an explicit secret; access-method tokens
// (DEFINE ACCESS ... TYPE JWT) carry the access name in the ac claim and
// are signed with that access method's own secret instead of the
// datastore default.
func (a *authenticator) issueWith(secret []byte, access, ns, db, user string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		NS: ns, DB: db, AC: access, User: user, Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
			Subject:   user,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (a *authenticator) verify(tokenString string) (*Claims, error) {
	return a.verifyWith(tokenString, a.secret)
}

func (a *authenticator) verifyWith(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, kerr.New(kerr.InvalidAuth, "%v", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, kerr.New(kerr.InvalidAuth, "invalid token")
	}
	return claims, nil
}

// peekClaims decodes a token's claims without verifying the signature,
// so Authenticate can learn which access method (and therefore which
// signing secret) to verify against. Verification always follows.
func peekClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, kerr.New(kerr.InvalidAuth, "%v", err)
	}
	return claims, nil
}

// Credentials is the signup/signin payload; NS/DB select
// the catalog scope the user is defined in, matching DEFINE USER's own
// ns/db-scoped namespacing.
type Credentials struct {
	NS, DB   string
	User     string
	Password string
}

// TokenPair is what Signup/Signin hand back to the caller: a
// short-lived access token plus a long-lived opaque refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// refreshRecord is one outstanding refresh token in Bridge.refreshTokens
// (keyed by the token itself): its bcrypt hash and the user/ns/db it was
// issued for. Refresh and Revoke delete the entry, so an exchanged or
// revoked token is no longer found. Kept on Bridge rather than
// authenticator since it is per-running-datastore state, not a stateless
// signing parameter.
type refreshRecord struct {
	Hash string
	User string
	NS   string
	DB   string
}

// Signup implements signup: hash the password with bcrypt and register the
// user in the catalog, then sign it in.
func (b *Bridge) Signup(creds Credentials) (TokenPair, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session: hash password: %w", err)
	}
	b.Catalog.EnsureDatabase(creds.NS, creds.DB)
	b.Catalog.DefineUser(creds.NS, creds.DB, catalog.UserDef{
		Name:         creds.User,
		PasswordHash: string(hash),
	})
	return b.Signin(creds)
}

// Signin implements signin: verify the password against the catalog's
// stored bcrypt hash and issue a fresh TokenPair.
func (b *Bridge) Signin(creds Credentials) (TokenPair, error) {
	u, ok := b.Catalog.User(creds.NS, creds.DB, creds.User)
	if !ok {
		return TokenPair{}, kerr.New(kerr.InvalidAuth, "unknown user %s", creds.User)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(creds.Password)); err != nil {
		return TokenPair{}, kerr.New(kerr.InvalidAuth, "invalid credentials")
	}
	return b.issueTokenPair(creds.NS, creds.DB, u)
}

func (b *Bridge) issueTokenPair(ns, db string, u *catalog.UserDef) (TokenPair, error) {
	access, err := b.auth.issue(ns, db, u.Name, u.Roles, b.auth.expiration)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := randomToken()
	if err != nil {
		return TokenPair{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(refresh), bcrypt.DefaultCost)
	if err != nil {
		return TokenPair{}, err
	}
	b.mu.Lock()
	b.refreshTokens[refresh] = refreshRecord{Hash: string(hash), User: u.Name, NS: ns, DB: db}
	b.mu.Unlock()
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(b.auth.expiration),
	}, nil
}

// DefineAccess registers a DEFINE ACCESS ... TYPE JWT entry, sealing the
// signing secret through the secrets manager so the catalog never holds
// it in the clear.
func (b *Bridge) DefineAccess(ns, db, name string, signingSecret []byte) error {
	sealed, err := b.secrets.Encrypt(signingSecret)
	if err != nil {
		return fmt.Errorf("session: seal access secret: %w", err)
	}
	b.Catalog.EnsureDatabase(ns, db)
	b.Catalog.DefineAccess(ns, db, catalog.AccessDef{
		Name:          name,
		Kind:          catalog.AccessJWT,
		SigningSecret: sealed,
	})
	return nil
}

// accessSecret opens the named access method's signing secret.
func (b *Bridge) accessSecret(ns, db, name string) ([]byte, error) {
	a, ok := b.Catalog.Access(ns, db, name)
	if !ok {
		return nil, kerr.New(kerr.InvalidAuth, "unknown access method %s", name)
	}
	secret, err := b.secrets.Decrypt(a.SigningSecret)
	if err != nil {
		return nil, kerr.New(kerr.InvalidAuth, "access method %s has no usable signing secret", name)
	}
	return secret, nil
}

// SigninWithAccess is Signin through a named DEFINE ACCESS method: the
// issued access token carries the access name and is signed with that
// method's own secret, so a later Authenticate verifies against it.
func (b *Bridge) SigninWithAccess(access string, creds Credentials) (TokenPair, error) {
	u, ok := b.Catalog.User(creds.NS, creds.DB, creds.User)
	if !ok {
		return TokenPair{}, kerr.New(kerr.InvalidAuth, "unknown user %s", creds.User)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(creds.Password)); err != nil {
		return TokenPair{}, kerr.New(kerr.InvalidAuth, "invalid credentials")
	}
	secret, err := b.accessSecret(creds.NS, creds.DB, access)
	if err != nil {
		return TokenPair{}, err
	}
	token, err := b.auth.issueWith(secret, access, creds.NS, creds.DB, u.Name, u.Roles, b.auth.expiration)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := randomToken()
	if err != nil {
		return TokenPair{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(refresh), bcrypt.DefaultCost)
	if err != nil {
		return TokenPair{}, err
	}
	b.mu.Lock()
	b.refreshTokens[refresh] = refreshRecord{Hash: string(hash), User: u.Name, NS: creds.NS, DB: creds.DB}
	b.mu.Unlock()
	return TokenPair{
		AccessToken:  token,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(b.auth.expiration),
	}, nil
}

// Authenticate implements authenticate(token): verify the JWT and bind the
// resulting identity onto the session's AuthState. Tokens carrying an ac
// claim are verified against that access method's sealed signing secret;
// all others against the datastore default.
func (b *Bridge) Authenticate(sessionID uuid.UUID, token string) error {
	peeked, err := peekClaims(token)
	if err != nil {
		return err
	}
	var claims *Claims
	if peeked.AC != "" {
		secret, err := b.accessSecret(peeked.NS, peeked.DB, peeked.AC)
		if err != nil {
			return err
		}
		claims, err = b.auth.verifyWith(token, secret)
		if err != nil {
			return err
		}
	} else {
		claims, err = b.auth.verify(token)
		if err != nil {
			return err
		}
	}
	sess, err := b.session(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.Auth = AuthState{Authenticated: true, NS: claims.NS, DB: claims.DB, User: claims.User, Roles: claims.Roles}
	sess.mu.Unlock()
	return nil
}

// Refresh implements refresh: exchange an outstanding (issued, not yet
// exchanged or revoked) refresh token for a new TokenPair. Refresh tokens
// carry no expiry of their own; refreshExpiration is not checked here.
func (b *Bridge) Refresh(refreshToken string) (TokenPair, error) {
	b.mu.RLock()
	rec, ok := b.refreshTokens[refreshToken]
	b.mu.RUnlock()
	if !ok {
		return TokenPair{}, kerr.New(kerr.InvalidAuth, "unknown or revoked refresh token")
	}
	u, ok := b.Catalog.User(rec.NS, rec.DB, rec.User)
	if !ok {
		return TokenPair{}, kerr.New(kerr.InvalidAuth, "user no longer exists")
	}
	b.mu.Lock()
	delete(b.refreshTokens, refreshToken)
	b.mu.Unlock()
	return b.issueTokenPair(rec.NS, rec.DB, u)
}

// Revoke implements revoke: invalidate a refresh token so a later Refresh
// call against it fails.
func (b *Bridge) Revoke(refreshToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.refreshTokens[refreshToken]; !ok {
		return kerr.New(kerr.InvalidAuth, "unknown refresh token")
	}
	delete(b.refreshTokens, refreshToken)
	return nil
}

// Invalidate implements invalidate: clear a session's auth state without
// closing the session itself (the caller may re-Authenticate the same
// session_id afterward).
func (b *Bridge) Invalidate(sessionID uuid.UUID) error {
	sess, err := b.session(sessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.Auth = AuthState{}
	sess.mu.Unlock()
	return nil
}

func randomToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	id2, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String() + id2.String(), nil
}
