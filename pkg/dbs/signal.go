package dbs

import "github.com/cuemby/nexus/pkg/value"

// controlFlow is the RETURN/BREAK/CONTINUE signal family. compute() returns
// it as a plain Go error so every call site composes with the usual `if err
// != nil { return err }` propagation, but callers that need to catch it
// (the statement loop for Return, the For loop for Break/ Continue) type-
// assert for *controlFlow rather than inspecting a kerr.Kind, keeping a
// statement's terminal control-flow outcome distinct from an actual
// evaluation failure.
type controlFlow struct {
	signal controlSignal
	value  value.Value
}

type controlSignal int

const (
	signalReturn controlSignal = iota
	signalBreak
	signalContinue
)

func (c *controlFlow) Error() string {
	switch c.signal {
	case signalReturn:
		return "control flow: return"
	case signalBreak:
		return "control flow: break"
	default:
		return "control flow: continue"
	}
}

// asControlFlow reports whether err is a propagating control-flow
// signal, returning it if so.
func asControlFlow(err error) (*controlFlow, bool) {
	cf, ok := err.(*controlFlow)
	return cf, ok
}

func returnSignal(v value.Value) error  { return &controlFlow{signal: signalReturn, value: v} }
func breakSignal() error                { return &controlFlow{signal: signalBreak} }
func continueSignal() error             { return &controlFlow{signal: signalContinue} }
