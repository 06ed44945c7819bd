package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ratio1/r1fs-drive-go/pkg/index"
	"github.com/ratio1/r1fs-drive-go/pkg/model"
	"github.com/ratio1/r1fs-drive-go/pkg/storage"
	"github.com/ratio1/r1fs-drive-go/pkg/upload"
)

func newListCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the file index",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.openDrive()
			if err != nil {
				return err
			}
			defer d.Close()

			idx, err := d.Index.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeIndented(cmd.OutOrStdout(), idx)
			}
			return printIndex(cmd.OutOrStdout(), idx)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw index as JSON")
	return cmd
}

func printIndex(out io.Writer, idx model.NodeFileIndex) error {
	nodes := make([]string, 0, len(idx))
	for node := range idx {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tCID\tFILENAME\tOWNER\tENCRYPTED\tUPLOADED")
	for _, node := range nodes {
		for _, f := range idx[node] {
			uploaded := "-"
			if !f.DateUploaded.IsZero() {
				uploaded = humanize.Time(f.DateUploaded.Time)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", node, f.CID, f.Filename, f.Owner, f.IsEncryptedWithCustomKey, uploaded)
		}
	}
	return tw.Flush()
}

func newPutCommand(a *app) *cobra.Command {
	var filename, owner, secret, nonce string
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a file and announce it in the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openDrive()
			if err != nil {
				return err
			}
			defer d.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			if uint64(info.Size()) > d.Config.MaxFileSize {
				return fmt.Errorf("%s is %s, larger than the %s limit",
					args[0], humanize.IBytes(uint64(info.Size())), humanize.IBytes(d.Config.MaxFileSize))
			}
			if filename == "" {
				filename = filepath.Base(args[0])
			}

			env, err := d.Gateway.Put(cmd.Context(), f, storage.PutOptions{
				Filename: filename,
				Secret:   secret,
				Nonce:    upload.ParseNonce(nonce),
			})
			if err != nil {
				return err
			}
			res := model.ParseUploadResult(env)
			rec := index.Record{CID: res.CID, NodeID: res.NodeID, Filename: filename, Owner: owner, Secret: secret}
			if rec.Complete() {
				if err := d.Index.Upsert(cmd.Context(), rec); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: file stored but index not updated: %v\n", err)
				}
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: backend did not report cid and node, index not updated")
			}
			return writeIndented(cmd.OutOrStdout(), env)
		},
	}
	cmd.Flags().StringVar(&filename, "filename", "", "name recorded for the file (default: base name of <file>)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner recorded in the index")
	cmd.Flags().StringVar(&secret, "secret", "", "custom encryption key")
	cmd.Flags().StringVar(&nonce, "nonce", "", "numeric nonce passed to the backend")
	return cmd
}

func newGetCommand(a *app) *cobra.Command {
	var secret, output string
	cmd := &cobra.Command{
		Use:   "get <cid>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openDrive()
			if err != nil {
				return err
			}
			defer d.Close()

			f, err := d.Downloads.Stream(cmd.Context(), args[0], secret)
			if err != nil {
				if secret != "" {
					return fmt.Errorf("%w (check your secret key)", err)
				}
				return err
			}
			defer f.Body.Close()

			var out io.Writer = cmd.OutOrStdout()
			if output != "" {
				if output == "." {
					output = filepath.Base(f.Filename)
				}
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}
			n, err := io.Copy(out, f.Body)
			if err != nil {
				return err
			}
			if output != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s to %s\n", humanize.IBytes(uint64(n)), output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "custom encryption key used at upload")
	cmd.Flags().StringVarP(&output, "output", "o", "", `write to this file instead of stdout ("." uses the stored name)`)
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage and ChainStore health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.openDrive()
			if err != nil {
				return err
			}
			defer d.Close()

			health := d.Check(cmd.Context())
			if err := writeIndented(cmd.OutOrStdout(), health); err != nil {
				return err
			}
			if !health.OK {
				return fmt.Errorf("backends unhealthy")
			}
			return nil
		},
	}
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
