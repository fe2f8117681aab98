package cache

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Store is the persistent tier. Implementations are content-addressed
// byte stores; values are opaque msgpack envelopes.
type Store interface {
	// Get retrieves a payload, returning ErrCacheMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a payload.
	Set(ctx context.Context, key string, payload []byte) error

	// Delete removes a payload.
	Delete(ctx context.Context, key string) error

	// Clear removes all payloads.
	Clear(ctx context.Context) error

	// Count reports the number of stored payloads.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// envelope is the persisted form of an Entry. The compiled program is
// never serialized; loads recompile from Source.
type envelope struct {
	TypeName  string    `msgpack:"type_name"`
	FuncName  string    `msgpack:"func_name"`
	Paths     []string  `msgpack:"paths"`
	Source    string    `msgpack:"source"`
	CreatedAt time.Time `msgpack:"created_at"`
}

func encodeEnvelope(entry *Entry) ([]byte, error) {
	return msgpack.Marshal(envelope{
		TypeName:  entry.TypeName,
		FuncName:  entry.FuncName,
		Paths:     entry.Paths,
		Source:    entry.Source,
		CreatedAt: entry.CreatedAt,
	})
}

func decodeEnvelope(payload []byte) (*Entry, error) {
	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return &Entry{
		TypeName:  env.TypeName,
		FuncName:  env.FuncName,
		Paths:     env.Paths,
		Source:    env.Source,
		CreatedAt: env.CreatedAt,
	}, nil
}
