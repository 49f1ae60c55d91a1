// Command voicechat talks to a voicerelay server from the terminal: it
// captures the microphone, sends each utterance to the relay, and plays the
// spoken reply. Type /clear to start the conversation over.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
	"golang.org/x/sync/errgroup"

	"github.com/lukasbauer/voicerelay/internal/client"
)

const (
	micRate   = 16000
	micFrames = 320 // 20ms
)

func main() {
	server := flag.String("server", "ws://localhost:8080/websocket", "relay websocket URL")
	session := flag.String("session", "", "session id to join (default: new session)")
	minSpeech := flag.Duration("min-speech", 900*time.Millisecond, "drop utterances shorter than this, trailing silence included")
	verbose := flag.Bool("v", false, "log diagnostics to stderr")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if !*verbose {
		logger.SetOutput(io.Discard)
	}

	if *session == "" {
		*session = uuid.NewString()
	}
	target, err := sessionURL(*server, *session)
	if err != nil {
		log.Fatalf("invalid -server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := portaudio.Initialize(); err != nil {
		log.Fatalf("portaudio init: %v", err)
	}
	defer portaudio.Terminate()

	spk, err := openSpeaker()
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer spk.Close()

	status := newStatusLine()
	playback := client.NewPlayback(client.PlaybackConfig{
		Decoder:  client.AutoDecoder{},
		Output:   spk,
		OnStatus: status.set,
	}, logger)

	conn, err := client.Dial(ctx, target, client.Handlers{
		OnText: func(text string) { status.println("You: " + text) },
		OnAudio: func(c client.Clip) {
			status.println("AI:  " + c.Text)
			playback.Enqueue(c)
		},
	}, logger)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	status.println(fmt.Sprintf("Connected to session %s. Speak, or type /clear.", *session))
	status.set(client.StatusListening)

	gate := client.NewGate(client.GateConfig{
		SampleRate:    micRate,
		PreRollFrames: 3,
		MinSpeech:     *minSpeech,
		OnStatus:      status.set,
	}, client.NewRMSDetector(), conn, playback, logger)

	go readCommands(conn, status)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := conn.Run(gctx)
		status.set("Disconnected.")
		return err
	})
	g.Go(func() error { return spk.run(gctx) })
	g.Go(func() error { return capture(gctx, gate) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		status.println("")
		log.Fatalf("voicechat: %v", err)
	}
	playback.Stop()
	status.println("")
}

func sessionURL(server, session string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("scheme %q is not ws or wss", u.Scheme)
	}
	q := u.Query()
	q.Set("session", session)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// capture reads 20ms microphone frames into the gate until ctx is done.
func capture(ctx context.Context, gate *client.Gate) error {
	buf := make([]int16, micFrames)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(micRate), micFrames, buf)
	if err != nil {
		return fmt.Errorf("open mic: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start mic: %w", err)
	}
	defer stream.Stop()

	frame := make([]float32, micFrames)
	for ctx.Err() == nil {
		if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return fmt.Errorf("read mic: %w", err)
		}
		for i, s := range buf {
			frame[i] = float32(s) / 32768
		}
		gate.Process(frame)
	}
	return ctx.Err()
}

func readCommands(conn *client.Conn, status *statusLine) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		switch strings.TrimSpace(sc.Text()) {
		case "/clear":
			if err := conn.SendClear(); err != nil {
				status.set(client.StatusConnectionIssue)
				continue
			}
			status.println("Conversation cleared.")
		case "":
		default:
			status.println("Unknown command. Try /clear.")
		}
	}
}
