package relay

import (
	"time"

	"pairchat/internal/domain"
)

const (
	frameHello   = "hello"
	framePaired  = "paired"
	frameMessage = "message"
	frameAck     = "ack"
	frameLeave   = "leave"
	frameLeft    = "left"
	frameError   = "error"
)

type frame struct {
	Type        string             `json:"type"`
	ID          string             `json:"id,omitempty"`
	PairingCode string             `json:"pairingCode,omitempty"`
	Certificate *certificateFrame  `json:"certificate,omitempty"`
	Kind        domain.MessageKind `json:"kind,omitempty"`
	Content     string             `json:"content,omitempty"`
	OK          bool               `json:"ok,omitempty"`
	Error       string             `json:"error,omitempty"`
}

type certificateFrame struct {
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c certificateFrame) toDomain() domain.Certificate {
	return domain.Certificate{Subject: c.Subject, IssuedAt: c.IssuedAt, ExpiresAt: c.ExpiresAt}
}

type ackFrame struct {
	OK    bool
	Error string
}
