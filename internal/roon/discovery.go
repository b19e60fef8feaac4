package roon

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// SOOD is the UDP query protocol Roon cores answer on the local network
const (
	soodPort    = 9003
	soodService = "00720724-5143-4a9b-abac-0e50cba674bb"

	discoveryTimeout = 5 * time.Second
)

var soodMulticast = net.IPv4(239, 255, 90, 90)

// discover broadcasts a SOOD query and returns the address of the first
// core that answers
func discover(ctx context.Context, logger *zap.Logger) (string, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return "", fmt.Errorf("failed to open discovery socket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(discoveryTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("failed to set discovery deadline: %w", err)
	}

	query := encodeSoodQuery(map[string]string{
		"query_service_id": soodService,
	})
	dest := &net.UDPAddr{IP: soodMulticast, Port: soodPort}
	if _, err := conn.WriteTo(query, dest); err != nil {
		return "", fmt.Errorf("failed to send discovery query: %w", err)
	}

	logger.Debug("Discovery query sent, waiting for a core")

	buf := make([]byte, 4096)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return "", fmt.Errorf("no core answered discovery: %w", err)
		}
		if !bytes.HasPrefix(buf[:n], []byte("SOOD")) {
			continue
		}
		udp, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		logger.Info("Discovered Roon core", zap.String("host", udp.IP.String()))
		return udp.IP.String(), nil
	}
}

// encodeSoodQuery renders a SOOD query message: the magic, the query type
// byte, then length-prefixed name/value property pairs
func encodeSoodQuery(props map[string]string) []byte {
	var buf bytes.Buffer
	buf.WriteString("SOOD")
	buf.WriteByte(2)   // protocol version
	buf.WriteByte('Q') // query

	for name, value := range props {
		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
		var vlen [2]byte
		binary.BigEndian.PutUint16(vlen[:], uint16(len(value)))
		buf.Write(vlen[:])
		buf.WriteString(value)
	}
	return buf.Bytes()
}
