package fabric

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// KillTopic is the only control topic the worker subscribes to. Publishing
// it tells every worker to terminate after its current iteration.
const KillTopic = "ctrl:kill"

// Endpoints are the remote addresses of the four fabric channels. Source
// and Sink are mandatory; Control and Fail are dialed only when set.
type Endpoints struct {
	Source  string
	Sink    string
	Control string
	Fail    string
}

// Fabric holds the worker's sockets. All sockets are dialed by Dial and
// closed together by Close.
type Fabric struct {
	// Source delivers task descriptors from the upstream distributor.
	Source zmq4.Socket

	// Sink routes replies by identity to the session manager.
	Sink zmq4.Socket

	// Control broadcasts shutdown. Nil when no control endpoint is
	// configured.
	Control zmq4.Socket

	// Fail is reserved for failure reports. Connected but never written:
	// the report format is an unfinished contract. Nil when unset.
	Fail zmq4.Socket
}

// Dial connects all configured endpoints. On any failure the already-open
// sockets are closed and the error names the endpoint that failed.
func Dial(ctx context.Context, eps Endpoints) (*Fabric, error) {
	f := &Fabric{
		Source: zmq4.NewPull(ctx),
		Sink:   zmq4.NewRouter(ctx),
	}

	if err := f.Source.Dial(eps.Source); err != nil {
		f.Close()
		return nil, fmt.Errorf("dial source %s: %w", eps.Source, err)
	}
	if err := f.Sink.Dial(eps.Sink); err != nil {
		f.Close()
		return nil, fmt.Errorf("dial sink %s: %w", eps.Sink, err)
	}

	if eps.Control != "" {
		f.Control = zmq4.NewSub(ctx)
		if err := f.Control.SetOption(zmq4.OptionSubscribe, KillTopic); err != nil {
			f.Close()
			return nil, fmt.Errorf("subscribe control: %w", err)
		}
		if err := f.Control.Dial(eps.Control); err != nil {
			f.Close()
			return nil, fmt.Errorf("dial control %s: %w", eps.Control, err)
		}
	}

	if eps.Fail != "" {
		f.Fail = zmq4.NewPush(ctx)
		if err := f.Fail.Dial(eps.Fail); err != nil {
			f.Close()
			return nil, fmt.Errorf("dial fail %s: %w", eps.Fail, err)
		}
	}

	return f, nil
}

// Close closes every open socket and reports the first error encountered.
func (f *Fabric) Close() error {
	var errs []error
	for _, sock := range []zmq4.Socket{f.Source, f.Sink, f.Control, f.Fail} {
		if sock == nil {
			continue
		}
		if err := sock.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsKill reports whether a control message carries the kill topic. The
// subscription filter already limits what arrives here, but the topic is
// checked anyway so an unrelated broadcast can never terminate the worker.
func IsKill(msg zmq4.Msg) bool {
	if len(msg.Frames) == 0 {
		return false
	}
	topic := msg.Frames[0]
	return len(topic) >= len(KillTopic) && string(topic[:len(KillTopic)]) == KillTopic
}
