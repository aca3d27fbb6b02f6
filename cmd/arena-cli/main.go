// Command arena-cli is a participant's command line for the inbox arena.
//
// # Commands
//
//	arena-cli keygen
//	arena-cli register --id=alice --key=<hex seed>
//	arena-cli send --to=bob --subject=hi --body="hello"
//	arena-cli inbox [--peek] [--since=N]
//	arena-cli queue join|leave|status
//	arena-cli watch
//	arena-cli submit --signer=bob --message-id=<id>
//	arena-cli session [id]
//	arena-cli archive [id]
//	arena-cli play --id=alice --key=<hex seed>
//
// Commands acting as a participant need --token (or ARENA_TOKEN) from
// register. play registers by itself and plays one session as an honest bot.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flashbots/inbox-arena/cmd/common"
	"github.com/flashbots/inbox-arena/crypto"
	"github.com/flashbots/inbox-arena/protocol"
	"github.com/flashbots/inbox-arena/registry"
	"github.com/flashbots/inbox-arena/services"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	server  string
	id      string
	key     string
	keyFile string
	token   string
	verbose bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "arena-cli",
		Short:        "Play the inbox arena from the command line",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.server, "server", "s", envOr("ARENA_SERVER", "http://localhost:8080"), "Arena URL")
	pf.StringVar(&g.id, "id", os.Getenv("ARENA_ID"), "Participant id")
	pf.StringVar(&g.key, "key", os.Getenv("ARENA_KEY"), "Ed25519 key (hex seed or private key)")
	pf.StringVar(&g.keyFile, "key-file", "", "File holding the hex key")
	pf.StringVar(&g.token, "token", os.Getenv("ARENA_TOKEN"), "Bearer credential from register")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		keygenCmd(),
		registerCmd(g),
		sendCmd(g),
		inboxCmd(g),
		queueCmd(g),
		watchCmd(g),
		submitCmd(g),
		sessionCmd(g),
		archiveCmd(g),
		playCmd(g),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (g *globalFlags) signingKey() (crypto.PrivateKey, error) {
	switch {
	case g.keyFile != "":
		return common.LoadKeyFile(g.keyFile)
	case g.key != "":
		return common.LoadOrGenerateSigningKey(g.key)
	}
	return nil, errors.New("--key or --key-file is required")
}

// client builds an SDK client. Signing is only needed for register, send
// --sign and play, so a missing key is fine here; a malformed one is not.
func (g *globalFlags) client() (*services.Client, error) {
	var key crypto.PrivateKey
	if g.key != "" || g.keyFile != "" {
		var err error
		if key, err = g.signingKey(); err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
	}
	c := services.NewClient(g.server, g.id, key)
	if g.token != "" {
		c.SetCredential(&registry.Credential{ParticipantID: g.id, Token: g.token})
	}
	return c, nil
}

func (g *globalFlags) authedClient() (*services.Client, error) {
	if g.token == "" {
		return nil, errors.New("--token (or ARENA_TOKEN) is required; run register first")
	}
	return g.client()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Printf("key:        %s\n", hex.EncodeToString(priv.Seed()))
			fmt.Printf("public key: %s\n", pub.String())
			return nil
		},
	}
}

func registerCmd(g *globalFlags) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the participant id with the key and print a credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.id == "" {
				return errors.New("--id is required")
			}
			key, err := g.signingKey()
			if err != nil {
				return err
			}
			cred, err := services.NewClient(g.server, g.id, key).Register(cmd.Context(), displayName)
			if err != nil {
				return err
			}
			fmt.Printf("export ARENA_TOKEN=%s\n", cred.Token)
			fmt.Printf("# expires %s\n", cred.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	return cmd
}

func sendCmd(g *globalFlags) *cobra.Command {
	var req services.SendRequest
	var sign bool
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			if sign {
				artifact, err := c.SignFor(req.Body)
				if err != nil {
					return fmt.Errorf("signing needs --key: %w", err)
				}
				req.Artifact = artifact
			}
			receipt, err := c.Send(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(receipt)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.To, "to", "", "Recipient id")
	f.StringVar(&req.Subject, "subject", "", "Subject")
	f.StringVar(&req.Body, "body", "", "Body")
	f.StringVar(&req.ID, "message-id", "", "Idempotency id (generated if empty)")
	f.BoolVar(&sign, "sign", false, "Attach a signature over the body")
	cmd.MarkFlagRequired("to")
	return cmd
}

func inboxCmd(g *globalFlags) *cobra.Command {
	var opts services.ListOptions
	var state string
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			opts.State = protocol.DeliveryState(state)
			msgs, err := c.Messages(cmd.Context(), opts)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				artifact := ""
				if m.Artifact != nil {
					artifact = fmt.Sprintf(" [signed by %s, %s]", m.Artifact.Signer, m.Artifact.State)
				}
				fmt.Printf("#%d %s %s -> %s (%s) %q%s\n", m.Seq, m.ID, m.From, m.To, m.State, m.Subject, artifact)
				if m.Body != "" {
					fmt.Printf("    %s\n", m.Body)
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Direction, "direction", "inbox", "inbox, sent or all")
	f.StringVar(&opts.Correspondent, "with", "", "Only messages exchanged with this participant")
	f.StringVar(&state, "state", "", "sent, delivered or read")
	f.Uint64Var(&opts.Since, "since", 0, "Only messages after this sequence number")
	f.IntVar(&opts.Limit, "limit", 0, "Maximum messages")
	f.BoolVar(&opts.Peek, "peek", false, "Do not mark returned messages delivered")
	return cmd
}

func queueCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Join, leave or inspect the matchmaking queue",
	}
	run := func(fn func(*services.Client, context.Context) (*services.QueueResponse, error), auth bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			get := g.client
			if auth {
				get = g.authedClient
			}
			c, err := get()
			if err != nil {
				return err
			}
			resp, err := fn(c, cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(resp)
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "join", Short: "Join the queue", RunE: run((*services.Client).JoinQueue, true)},
		&cobra.Command{Use: "leave", Short: "Leave the queue", RunE: run((*services.Client).LeaveQueue, true)},
		&cobra.Command{Use: "status", Short: "Show the queue", RunE: run((*services.Client).QueueStatus, false)},
	)
	return cmd
}

func watchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live events",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			events, err := c.Live(cmd.Context())
			if err != nil {
				return err
			}
			for ev := range events {
				fmt.Printf("%s %-18s %s\n", ev.At.Format("15:04:05"), ev.Type, ev.Data)
			}
			return nil
		},
	}
}

func submitCmd(g *globalFlags) *cobra.Command {
	var messageID string
	var round int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the signature carried by a received message",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			msg, err := c.Message(cmd.Context(), messageID)
			if err != nil {
				return err
			}
			if msg.Artifact == nil {
				return fmt.Errorf("message %s carries no signature", messageID)
			}
			res, err := c.Submit(cmd.Context(), services.SubmitRequest{
				Signer:    msg.Artifact.Signer,
				Digest:    msg.Artifact.Digest,
				Signature: msg.Artifact.Signature,
				Round:     round,
				MessageID: msg.ID,
			})
			if res != nil {
				printJSON(res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&messageID, "message-id", "", "Message holding the signature")
	cmd.Flags().IntVar(&round, "round", 0, "Round the submission is for (0 for the current one)")
	cmd.MarkFlagRequired("message-id")
	return cmd
}

func sessionCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "session [id]",
		Short: "Show the current session, or a session by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				c, err := g.client()
				if err != nil {
					return err
				}
				sum, err := c.Session(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(sum)
			}
			c, err := g.authedClient()
			if err != nil {
				return err
			}
			view, err := c.CurrentSession(cmd.Context())
			if err != nil {
				return err
			}
			if view.Instructions != "" {
				fmt.Println(view.Instructions)
				fmt.Println()
			}
			return printJSON(view)
		},
	}
}

func archiveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "archive [id]",
		Short: "List archived sessions, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				rec, err := c.Archive(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(rec)
			}
			list, err := c.ArchiveList(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(list)
		},
	}
}

func playCmd(g *globalFlags) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Register if needed and play one session as an honest bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.id == "" {
				return errors.New("--id is required")
			}
			if _, err := g.signingKey(); err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			if g.token == "" {
				if _, err := c.Register(cmd.Context(), displayName); err != nil {
					return err
				}
			}

			level := slog.LevelInfo
			if g.verbose {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			player := services.NewPlayer(c, log)
			out, err := player.Play(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("session %s: %s\n", out.SessionID, out.Status)
			fmt.Printf("accepted submissions: %d\n", player.Accepted)
			for reason, n := range player.Rejections {
				fmt.Printf("rejected %s: %d\n", reason, n)
			}
			return printJSON(out.Scores)
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	return cmd
}
