package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dunelegacy/dunelockstep/config"
	"github.com/dunelegacy/dunelockstep/pkg/kcp_transport"
	"github.com/dunelegacy/dunelockstep/server"
	"github.com/dunelegacy/dunelockstep/server/api"
	"github.com/spf13/cobra"

	l4g "github.com/alecthomas/log4go"
)

type nodeFlags struct {
	name   string
	listen string
	seed   uint64
	bot    bool
	chat   bool
}

func (f *nodeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "player name (default from config)")
	cmd.Flags().StringVar(&f.listen, "listen", "", "listen address (default from config)")
	cmd.Flags().Uint64Var(&f.seed, "seed", uint64(time.Now().UnixNano()), "game seed")
	cmd.Flags().BoolVar(&f.bot, "bot", false, "issue random orders for the local units")
	cmd.Flags().BoolVar(&f.chat, "chat", false, "send lines read from stdin as chat")
}

func (f *nodeFlags) config() config.Config {
	c := config.Cfg
	if "" != f.name {
		c.PlayerName = f.name
	}
	if "" != f.listen {
		c.ListenAddress = f.listen
	}
	return c
}

// runNode runs n until a signal arrives or the game fails.
func runNode(ctx context.Context, n *server.Node, f *nodeFlags) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if addr := config.Cfg.StatusAddress; "" != addr {
		web, err := api.NewWebAPI(addr, func() interface{} { return n.Status() })
		if nil != err {
			return err
		}
		defer web.Close()
	}
	if f.chat {
		go func() {
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				if line := strings.TrimSpace(sc.Text()); "" != line {
					n.SendChat(line)
				}
			}
		}()
	}

	l4g.Info("[main] start...")
	err := n.Run(ctx)
	l4g.Info("[main] quitting...")
	return err
}

func NewHostCmd() *cobra.Command {
	var (
		f       nodeFlags
		players int
		delay   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a game and start it once enough players joined",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := server.NewNode(f.config(), kcp_transport.New(), server.Options{
				WaitFor:    players,
				StartDelay: delay,
				Seed:       f.seed,
				Bot:        f.bot,
			})
			if nil != err {
				return err
			}
			if err := n.Host(); nil != err {
				return err
			}
			return runNode(cmd.Context(), n, &f)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&players, "players", 2, "start when this many players, the host included, are in")
	cmd.Flags().DurationVar(&delay, "delay", 3*time.Second, "countdown sent to every peer before the first cycle")
	return cmd
}

func NewJoinCmd() *cobra.Command {
	var f nodeFlags
	cmd := &cobra.Command{
		Use:     "join [host:port]",
		Short:   "Join a hosted game",
		Example: "dunelockstep join 192.168.1.10:28747 --name bob",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := server.NewNode(f.config(), kcp_transport.New(), server.Options{Seed: f.seed, Bot: f.bot})
			if nil != err {
				return err
			}
			if err := n.Join(args[0]); nil != err {
				return err
			}
			return runNode(cmd.Context(), n, &f)
		},
	}
	f.register(cmd)
	return cmd
}
