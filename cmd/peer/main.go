// Command peer is a headless participant: it joins a room on a signaling
// server and negotiates a call with whoever else joins.
package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mossy-p/p2p-call-signaling/internal/candidate"
	"github.com/mossy-p/p2p-call-signaling/internal/client"
	"github.com/mossy-p/p2p-call-signaling/internal/mediaengine"
)

type options struct {
	server         string
	room           string
	user           string
	token          string
	candidateTypes string
	stun           []string
	logLevel       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:          "peer",
		Short:        "Join a room and negotiate a call",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "ws://localhost:8080/ws/signal", "Signaling endpoint")
	flags.StringVarP(&opts.room, "room", "r", "", "Room to join")
	flags.StringVarP(&opts.user, "user", "u", "", "Participant id (random if empty and no token)")
	flags.StringVar(&opts.token, "token", "", "Login token; pins the participant id")
	flags.StringVar(&opts.candidateTypes, "candidate-types", "all", "Candidate origins to send (host,srflx,relay)")
	flags.StringSliceVar(&opts.stun, "stun", nil, "STUN/TURN URLs (defaults to public STUN)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn, error")
	cmd.MarkFlagRequired("room")

	return cmd
}

func run(ctx context.Context, opts options) error {
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if level, err := logrus.ParseLevel(opts.logLevel); err == nil {
		l.Level = level
	}
	log := logrus.NewEntry(l)

	policy, err := candidate.ParsePolicy(opts.candidateTypes)
	if err != nil {
		return err
	}

	if opts.user == "" && opts.token == "" {
		opts.user = uuid.New().String()
	}

	endpoint, err := signalURL(opts.server, opts.token)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := mediaengine.New(mediaengine.Config{ICEServers: opts.stun}, log)
	if err != nil {
		return err
	}

	tr, err := client.Dial(ctx, endpoint)
	if err != nil {
		engine.Close()
		return err
	}

	log.WithFields(logrus.Fields{
		"server":     opts.server,
		"room":       opts.room,
		"user":       opts.user,
		"candidates": policy.String(),
	}).Info("Joining room")

	agent := client.New(client.Config{UserID: opts.user, RoomID: opts.room, Policy: policy}, tr, engine, log)
	return agent.Run(ctx)
}

func signalURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
