package fabric

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
)

// listen binds a socket to an ephemeral port and returns its endpoint.
func listen(t *testing.T, sock zmq4.Socket) string {
	t.Helper()
	if err := sock.Listen("tcp://127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	return "tcp://" + sock.Addr().String()
}

// sendEventually retries a send until the peer handshake has completed.
func sendEventually(t *testing.T, sock zmq4.Socket, msg zmq4.Msg) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := sock.Send(msg)
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("send: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDialInvalidEndpoint(t *testing.T) {
	ctx := context.Background()

	_, err := Dial(ctx, Endpoints{
		Source: "bogus://nowhere",
		Sink:   "tcp://127.0.0.1:1",
	})
	if err == nil {
		t.Fatal("invalid source endpoint accepted")
	}
}

func TestSourceReceivesTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := zmq4.NewPush(ctx)
	sessions := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity("session-1")))

	f, err := Dial(ctx, Endpoints{
		Source: listen(t, queue),
		Sink:   listen(t, sessions),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer f.Close()

	sendEventually(t, queue, zmq4.NewMsg([]byte(`{"pid":"p"}`)))

	msg, err := f.Source.Recv()
	if err != nil {
		t.Fatalf("source recv: %v", err)
	}
	if !bytes.Equal(msg.Frames[0], []byte(`{"pid":"p"}`)) {
		t.Errorf("got %q", msg.Frames[0])
	}
}

func TestSinkRoutesByIdentity(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := zmq4.NewPush(ctx)
	sessions := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity("session-1")))

	f, err := Dial(ctx, Endpoints{
		Source: listen(t, queue),
		Sink:   listen(t, sessions),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer f.Close()

	reply := zmq4.NewMsgFrom([]byte("session-1"), []byte("header"), []byte("payload"))
	sendEventually(t, f.Sink, reply)

	msg, err := sessions.Recv()
	if err != nil {
		t.Fatalf("session recv: %v", err)
	}
	// The router consumes the identity frame.
	if len(msg.Frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(msg.Frames))
	}
	if !bytes.Equal(msg.Frames[0], []byte("header")) || !bytes.Equal(msg.Frames[1], []byte("payload")) {
		t.Errorf("got %q", msg.Frames)
	}
}

func TestSinkRejectsUnknownIdentity(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := zmq4.NewPush(ctx)
	sessions := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity("session-1")))

	f, err := Dial(ctx, Endpoints{
		Source: listen(t, queue),
		Sink:   listen(t, sessions),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer f.Close()

	// Wait for the known peer to be reachable first, so the unknown-peer
	// send below fails because of the identity, not the handshake.
	sendEventually(t, f.Sink, zmq4.NewMsgFrom([]byte("session-1"), []byte("warmup")))

	err = f.Sink.Send(zmq4.NewMsgFrom([]byte("no-such-session"), []byte("payload")))
	if err == nil {
		t.Error("send to unknown identity succeeded")
	}
}

func TestControlKillTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := zmq4.NewPush(ctx)
	sessions := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity("session-1")))
	control := zmq4.NewPub(ctx)

	f, err := Dial(ctx, Endpoints{
		Source:  listen(t, queue),
		Sink:    listen(t, sessions),
		Control: listen(t, control),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer f.Close()

	// Slow-joiner: publish until the subscription has propagated.
	got := make(chan zmq4.Msg, 1)
	go func() {
		msg, err := f.Control.Recv()
		if err == nil {
			got <- msg
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := control.Send(zmq4.NewMsg([]byte(KillTopic))); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case msg := <-got:
			if !IsKill(msg) {
				t.Errorf("kill message not recognized: %q", msg.Frames)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("kill broadcast never arrived")
		}
	}
}

func TestIsKill(t *testing.T) {
	if !IsKill(zmq4.NewMsg([]byte("ctrl:kill"))) {
		t.Error("exact topic not recognized")
	}
	if IsKill(zmq4.NewMsg([]byte("ctrl:status"))) {
		t.Error("other topic recognized as kill")
	}
	if IsKill(zmq4.Msg{}) {
		t.Error("empty message recognized as kill")
	}
}
