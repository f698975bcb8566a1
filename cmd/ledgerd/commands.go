package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ledgerline/ledgerd/blockchain"
	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/encoder"
	"github.com/ledgerline/ledgerd/node"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const blockF = "block"

// openNode opens the data directory without starting any service.
func openNode(cmd *cobra.Command) (*node.Node, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Genesis = ""
	cfg.RecycleInterval = 0
	cfg.HTTP, cfg.Metrics, cfg.Pprof = false, false, false
	if cfg.LogLevel < utils.WARN {
		cfg.LogLevel = utils.WARN
	}
	return node.New(cfg, Version)
}

func GenesisCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genesis <file>",
		Short: "Create the genesis state from a genesis file",
		Long:  `This subcommand validates the genesis file and applies it to an empty data directory.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, n.Close())
			}()

			if head, headErr := n.Chain().Head(); headErr == nil {
				return fmt.Errorf("data directory already holds block %s at height %d", head.ID, head.Header.Height)
			}
			g, err := blockchain.LoadGenesis(args[0])
			if err != nil {
				return err
			}
			result, err := n.Chain().CreateGenesis(cmd.Context(), g)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Genesis block %s\n", result.ID)
			return err
		},
	}
}

func CallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <method> [params]",
		Short: "Run a read-only method against a block state",
		Long: `This subcommand runs a view method against the state of a block and prints the result as JSON.
Params are a JSON object, for example '{"address": "..."}'.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var params any = map[string]any{}
			if len(args) == 2 {
				decoder := json.NewDecoder(bytes.NewBufferString(args[1]))
				decoder.UseNumber()
				if err = decoder.Decode(&params); err != nil {
					return fmt.Errorf("params: %w", err)
				}
			}
			input, err := encoder.Marshal(params)
			if err != nil {
				return err
			}

			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, n.Close())
			}()

			id, err := blockArg(cmd, n.Chain())
			if err != nil {
				return err
			}
			result, err := n.Chain().Call(cmd.Context(), id, args[0], input)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().String(blockF, "", "Block to read the state of, defaults to the head block")
	return cmd
}

func blockArg(cmd *cobra.Command, chain *blockchain.Chain) (core.BlockID, error) {
	raw, err := cmd.Flags().GetString(blockF)
	if err != nil {
		return core.BlockID{}, err
	}
	if raw != "" {
		return core.ParseBlockID(raw)
	}
	head, err := chain.Head()
	if err != nil {
		return core.BlockID{}, fmt.Errorf("no head block: %w", err)
	}
	return head.ID, nil
}

func SnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List the block states kept on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			n, err := openNode(cmd)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, n.Close())
			}()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Block", "Dump", "Redo log", "Refs"})
			for _, info := range n.Snapshots() {
				table.Append([]string{
					info.ID.String(),
					strconv.FormatBool(info.HasDump),
					strconv.FormatBool(info.HasRedo),
					strconv.Itoa(info.Refs),
				})
			}
			table.Render()
			return nil
		},
	}
}
