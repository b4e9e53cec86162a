package ipc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lizardbyte/sunshine-wgc/internal/guid"
)

// ErrHandshakeFailed collapses any handshake-step failure into a single
// sentinel; no partial state persists past a failed handshake.
var ErrHandshakeFailed = errors.New("ipc: handshake failed")

const (
	handshakeConnectTimeout = 3 * time.Second
	handshakeSendTimeout    = 5 * time.Second
	handshakeAckTimeout     = 3 * time.Second
	handshakeClientRecvWait = 3 * time.Second
	wellKnownDialBudget     = 2 * time.Second
	dataPipeDialBudget      = 5 * time.Second
)

// RunHostHandshake is the server (parent/host) half of the anonymous
// handshake: it owns the well-known pipe, hands the client a randomised
// data-pipe name, and returns the connected data pipe once the client has
// dialed it.
func RunHostHandshake(ctx context.Context, t Transport, parentPID int, log *logrus.Entry) (Endpoint, error) {
	wellKnown := WellKnownHandshakeName(parentPID)
	server, err := t.CreateServer(wellKnown)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	defer server.Disconnect()

	if err := server.WaitForClientConnection(handshakeConnectTimeout); err != nil {
		log.WithError(err).Debug("handshake: no client connected to well-known pipe")
		return nil, ErrHandshakeFailed
	}

	dataPipeGUID, err := guid.New()
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	dataPipeName := dataPipeGUID.PipeName()

	msg, err := EncodeConnectionMessage(ConnectionMessage{PipeName: dataPipeGUID.String()})
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	ok, err := server.Send(msg, handshakeSendTimeout)
	if err != nil || !ok {
		log.WithError(err).Debug("handshake: failed to send connection message")
		return nil, ErrHandshakeFailed
	}

	ack := make([]byte, 1)
	n, result, err := server.Receive(ack, handshakeAckTimeout)
	if err != nil || result != ReceiveSuccess || n != 1 || ack[0] != MsgHandshakeACK {
		log.WithField("result", result).Debug("handshake: ACK not received")
		return nil, ErrHandshakeFailed
	}

	dataServer, err := t.CreateServer(dataPipeName)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	if err := dataServer.WaitForClientConnection(dataPipeDialBudget); err != nil {
		dataServer.Disconnect()
		return nil, ErrHandshakeFailed
	}
	return dataServer, nil
}

// RunHelperHandshake is the client (helper) half: it connects to the
// well-known pipe, learns the data pipe name, ACKs, and dials the data
// pipe.
func RunHelperHandshake(ctx context.Context, t Transport, parentPID int, log *logrus.Entry) (Endpoint, error) {
	wellKnown := WellKnownHandshakeName(parentPID)

	wellKnownCtx, cancel := context.WithTimeout(ctx, wellKnownDialBudget)
	defer cancel()
	client, err := t.CreateClient(wellKnownCtx, wellKnown)
	if err != nil {
		log.WithError(err).Debug("handshake: failed to connect to well-known pipe")
		return nil, ErrHandshakeFailed
	}
	defer client.Disconnect()

	buf := make([]byte, MaxPipeNameCodeUnits*2)
	deadline := time.Now().Add(handshakeClientRecvWait)
	received := 0
	for received < len(buf) && time.Now().Before(deadline) {
		n, result, err := client.Receive(buf[received:], time.Until(deadline))
		if err != nil || result == ReceiveBrokenPipe || result == ReceiveError {
			return nil, ErrHandshakeFailed
		}
		received += n
	}
	if received < len(buf) {
		return nil, ErrHandshakeFailed
	}

	connMsg, err := DecodeConnectionMessage(buf)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	dataPipeGUID, err := guid.FromString(connMsg.PipeName)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
	}

	ok, err := client.Send([]byte{MsgHandshakeACK}, handshakeSendTimeout)
	if err != nil || !ok {
		return nil, ErrHandshakeFailed
	}

	dataCtx, cancel2 := context.WithTimeout(ctx, dataPipeDialBudget)
	defer cancel2()
	return t.CreateClient(dataCtx, dataPipeGUID.PipeName())
}
