// Package meeting provisions video consultation rooms.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Provisioner returns a join URL for a confirmed appointment.
type Provisioner interface {
	Provision(ctx context.Context, appointmentID uuid.UUID) (string, error)
}

// RoomProvisioner mints unguessable room names under a base URL. It does
// not call out to the video provider; rooms are created on first join.
type RoomProvisioner struct {
	base *url.URL
}

func NewRoomProvisioner(baseURL string) (*RoomProvisioner, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse meeting base url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return nil, errors.New("meeting base url must be an absolute http(s) url")
	}
	return &RoomProvisioner{base: u}, nil
}

func (p *RoomProvisioner) Provision(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	room := fmt.Sprintf("consult-%s-%s",
		strings.SplitN(appointmentID.String(), "-", 2)[0],
		strings.ReplaceAll(uuid.NewString(), "-", ""))
	return p.base.JoinPath(room).String(), nil
}
