package main

import (
	"fmt"
	"net"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dunelegacy/dunelockstep/config"
	"github.com/dunelegacy/dunelockstep/logic/discovery"
	"github.com/dunelegacy/dunelockstep/util"
	"github.com/spf13/cobra"

	l4g "github.com/alecthomas/log4go"
)

func NewFindCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "find",
		Short: "List games announced on the LAN and on the meta server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var games []discovery.GameInfo
			lan, err := discovery.NewLANFinder(net.JoinHostPort("", strconv.Itoa(config.Cfg.LanPort)), 2*wait)
			if nil != err {
				l4g.Warn("[find] lan: %v", err)
			} else {
				time.Sleep(wait)
				_ = lan.Refresh()
				games = append(games, lan.Games()...)
				lan.Close()
			}
			if url := config.Cfg.MetaServerURL; "" != url {
				meta := discovery.NewMetaServerClient(url, time.Minute)
				if err := meta.Refresh(); nil != err {
					l4g.Warn("[find] meta server: %v", err)
				} else {
					games = append(games, meta.Games()...)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tPLAYERS\tVERSION\tSTARTED")
			for _, g := range games {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%v\n", g.Name, g.Addr, g.NumPlayers, g.MaxPlayers, g.Version, g.Started)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to listen for LAN announcements")
	return cmd
}

func NewIPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ip",
		Short: "Print the addresses other peers may reach this host on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if ip, err := util.GetOutboundIP(); nil == err {
				fmt.Fprintln(out, "outbound:", ip)
			}
			if ip := util.GetLocalIP(); "" != ip {
				fmt.Fprintln(out, "local:   ", ip)
			}
			return nil
		},
	}
}
