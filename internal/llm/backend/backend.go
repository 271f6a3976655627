// Package backend abstracts the completion providers behind one interface so
// the chat service does not care whether the model runs locally or remotely.
package backend

import "context"

// Options are the sampling knobs forwarded to the provider. Providers that do
// not support a knob ignore it.
type Options struct {
	Temperature float64
	TopP        float64
}

// Completer produces one completion for a system/user prompt pair.
type Completer interface {
	Complete(ctx context.Context, system string, user string) (string, error)
}
