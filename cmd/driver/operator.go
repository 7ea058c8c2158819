// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/publisher"
)

var errQuit = errors.New("quit")

// tracker is the publisher surface the operator drives.
type tracker interface {
	Start(ctx context.Context) error
	Stop()
	SendNow(ctx context.Context) error
	SendNotification(ctx context.Context, t models.NotificationType, message string) (models.NotificationEvent, error)
	SetNextStop(text string)
	State() publisher.State
	Latest() (models.Position, bool)
}

// positionFeed is implemented by *positionsource.Manual. It is nil for
// other sources.
type positionFeed interface {
	Push(p models.Position) bool
}

type operator struct {
	pub    tracker
	manual positionFeed
	out    io.Writer
}

func newOperator(pub tracker, manual positionFeed, out io.Writer) *operator {
	return &operator{pub: pub, manual: manual, out: out}
}

func (o *operator) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			err := o.handle(ctx, line)
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				fmt.Fprintf(o.out, "error: %v\n", err)
			}
		}
	}
}

// handle executes one command line.
func (o *operator) handle(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "start":
		if err := o.pub.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(o.out, "tracking")
	case "stop":
		o.pub.Stop()
		fmt.Fprintln(o.out, "idle")
	case "send":
		if err := o.pub.SendNow(ctx); err != nil {
			return err
		}
		fmt.Fprintln(o.out, "location sent")
	case "notify":
		if len(args) < 2 {
			return errors.New("usage: notify <type> <message>")
		}
		t, err := models.ParseNotificationType(args[0])
		if err != nil {
			return fmt.Errorf("%w: %s", err, args[0])
		}
		e, err := o.pub.SendNotification(ctx, t, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(o.out, "notification %s sent\n", e.ID)
	case "next":
		o.pub.SetNextStop(strings.Join(args, " "))
		fmt.Fprintln(o.out, "next stop set")
	case "pos":
		return o.push(args)
	case "status":
		o.status()
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(o.out, "commands: start, stop, send, notify <type> <message>, next <stop>, pos <lat> <lng>, status, quit")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (o *operator) push(args []string) error {
	if o.manual == nil {
		return errors.New("pos requires DRIVER_SOURCE=manual")
	}
	if len(args) != 2 {
		return errors.New("usage: pos <lat> <lng>")
	}
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: position out of range", models.ErrInvalidEvent)
	}
	if !o.manual.Push(models.Position{Lat: lat, Lng: lng, ObservedAt: time.Now().UTC()}) {
		return errors.New("position queue full")
	}
	return nil
}

func (o *operator) status() {
	fmt.Fprintf(o.out, "state: %s\n", o.pub.State())
	if p, ok := o.pub.Latest(); ok {
		fmt.Fprintf(o.out, "last position: %.6f, %.6f at %s\n", p.Lat, p.Lng, p.ObservedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(o.out, "last position: none")
	}
}
