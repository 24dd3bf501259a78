package inspect

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danmuck/ctlwire/internal/auth"
	"github.com/danmuck/ctlwire/internal/observability"
	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/danmuck/ctlwire/internal/protocol/frame"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ErrMissingInput = errors.New("inspect: body_hex with code, or datagram_hex, is required")
	ErrInputTooLong = errors.New("inspect: input exceeds frame limit")
)

// PacketView is the JSON shape of a control packet.
type PacketView struct {
	Code               uint8    `json:"code"`
	CodeName           string   `json:"code_name,omitempty"`
	Key                uint8    `json:"key"`
	SessionID          string   `json:"session_id"`
	PacketID           *uint32  `json:"packet_id,omitempty"`
	PayloadHex         string   `json:"payload_hex,omitempty"`
	AckIDs             []uint32 `json:"ack_ids,omitempty"`
	AckRemoteSessionID string   `json:"ack_remote_session_id,omitempty"`
}

type decodeRequest struct {
	Code        *uint8 `json:"code"`
	Key         uint8  `json:"key"`
	BodyHex     string `json:"body_hex"`
	DatagramHex string `json:"datagram_hex"`
}

type encodeResponse struct {
	BodyHex     string `json:"body_hex"`
	DatagramHex string `json:"datagram_hex"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.startedAt).String(),
			"service": "ctlwire-inspect",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1/control")
	if s.validator != nil {
		v1.Use(auth.Middleware(s.validator, s.logger))
	}
	v1.POST("/decode", s.handleDecode)
	v1.POST("/encode", s.handleEncode)
}

func (s *Server) handleDecode(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		p    *protocol.ControlPacket
		code protocol.PacketCode
		err  error
	)
	switch {
	case req.DatagramHex != "":
		datagram, derr := s.decodeHex(req.DatagramHex)
		if derr != nil {
			s.writeInputError(c, derr)
			return
		}
		if len(datagram) > 0 {
			code, _ = frame.SplitOpcode(datagram[0])
		}
		p, err = frame.ParseControl(s.ser, datagram)
	case req.Code != nil:
		body, derr := s.decodeHex(req.BodyHex)
		if derr != nil {
			s.writeInputError(c, derr)
			return
		}
		code = protocol.PacketCode(*req.Code)
		p, err = s.ser.Deserialize(code, req.Key, body, 0, len(body))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMissingInput.Error()})
		return
	}

	observability.RecordDecode(code, err)
	observability.MarkPacketCode(c, code)
	if err != nil {
		observability.MarkErrorField(c, err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
			"field": protocol.ErrorField(err),
		})
		return
	}
	c.JSON(http.StatusOK, ViewOf(p))
}

func (s *Server) handleEncode(c *gin.Context) {
	var view PacketView
	if err := c.ShouldBindJSON(&view); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := view.Packet()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	observability.MarkPacketCode(c, p.Code)
	datagram, err := frame.MarshalControl(s.ser, p)
	observability.RecordEncode(p.Code, err)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, encodeResponse{
		BodyHex:     hex.EncodeToString(datagram[frame.OpcodeLen:]),
		DatagramHex: hex.EncodeToString(datagram),
	})
}

func (s *Server) decodeHex(raw string) ([]byte, error) {
	if len(raw) > 2*s.limits.MaxFrameBytes {
		return nil, ErrInputTooLong
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("inspect: invalid hex: %w", err)
	}
	return b, nil
}

func (s *Server) writeInputError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, ErrInputTooLong) {
		status = http.StatusRequestEntityTooLarge
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ViewOf renders p for JSON output.
func ViewOf(p *protocol.ControlPacket) PacketView {
	v := PacketView{
		Code:      uint8(p.Code),
		CodeName:  p.Code.String(),
		Key:       p.Key,
		SessionID: p.SessionID.String(),
	}
	if p.HasPacketID() {
		id := p.PacketID
		v.PacketID = &id
	}
	if p.Payload != nil {
		v.PayloadHex = hex.EncodeToString(p.Payload)
	}
	if p.Ack != nil {
		v.AckIDs = p.Ack.IDs
		v.AckRemoteSessionID = p.Ack.RemoteSessionID.String()
	}
	return v
}

// Packet converts v back into a control packet.
func (v PacketView) Packet() (*protocol.ControlPacket, error) {
	code := protocol.PacketCode(v.Code)
	sid, err := protocol.ParseSessionID(v.SessionID)
	if err != nil {
		return nil, err
	}

	var ack *protocol.Ack
	if len(v.AckIDs) > 0 || v.AckRemoteSessionID != "" {
		remote, err := protocol.ParseSessionID(v.AckRemoteSessionID)
		if err != nil {
			return nil, fmt.Errorf("ack_remote_session_id: %w", err)
		}
		if len(v.AckIDs) == 0 {
			return nil, fmt.Errorf("ack_remote_session_id given without ack_ids")
		}
		ack = &protocol.Ack{IDs: v.AckIDs, RemoteSessionID: remote}
	}

	if code.IsAck() {
		if ack == nil {
			return nil, protocol.ErrAckWithoutIDs
		}
		if v.PacketID != nil || v.PayloadHex != "" {
			return nil, fmt.Errorf("ack packets carry no packet_id or payload")
		}
		return protocol.NewAckPacket(v.Key, sid, *ack), nil
	}

	if v.PacketID == nil {
		return nil, fmt.Errorf("packet_id is required for %s", code)
	}
	payload, err := hex.DecodeString(v.PayloadHex)
	if err != nil {
		return nil, fmt.Errorf("payload_hex: %w", err)
	}
	p := protocol.NewControlPacket(code, v.Key, sid, *v.PacketID, payload)
	p.Ack = ack
	return p, nil
}
