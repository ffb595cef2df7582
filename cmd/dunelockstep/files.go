package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dunelegacy/dunelockstep/config"
	"github.com/dunelegacy/dunelockstep/logic/game"
	"github.com/dunelegacy/dunelockstep/logic/savegame"
	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/dunelegacy/dunelockstep/server"
	"github.com/spf13/cobra"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func NewReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay [file]",
		Short: "Run a recorded replay to its end and print the final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if nil != err {
				return err
			}
			defer f.Close()

			g, err := game.NewReplay(server.GameConfig(config.Cfg), f)
			if nil != err {
				return err
			}
			if err := g.RunReplay(); nil != err {
				return err
			}
			return printJSON(cmd, struct {
				game.Status
				Objects int `json:"objects"`
			}{g.Status(), g.Context().Objects.Len()})
		},
	}
}

func NewInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [save]",
		Short: "Print the header of a save game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if nil != err {
				return err
			}
			defer f.Close()

			h, err := savegame.ReadHeader(stream.NewReader(f))
			if nil != err {
				return err
			}
			s, err := game.UnmarshalSettings(h.Settings)
			if nil != err {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"type":      game.GameType(h.GameType).String(),
				"techLevel": h.TechLevel,
				"map":       fmt.Sprintf("%dx%d", h.MapWidth, h.MapHeight),
				"cycle":     h.Cycle,
				"seed":      h.Seed,
				"players":   s.Players(),
			})
		},
	}
}

func NewConfigCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "config [out]",
		Short: "Write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Save(in, args[0])
		},
	}
	cmd.Flags().StringVar(&in, "from", "", "config file to merge over the defaults")
	return cmd
}
