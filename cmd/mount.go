package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentic-research/canopy/internal/forestmount"
)

var mountNoAttach bool

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Serve the forest over NFS and mount it",
	Long:  "Mount projects the forest as a read-only filesystem: record directories named by\nid, nested by ancestry, each with record.json, chain and ancestry files.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountpoint := args[0]

		tree, err := openTree()
		if err != nil {
			return err
		}
		defer func() { _ = tree.Store().Close() }()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ffs := forestmount.NewForestFS(tree, map[string]any{
			"backend": cfg.Backend,
			"source":  cfg.Path,
		})

		srv, err := forestmount.NewServer(ffs)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
		fmt.Printf("NFS server on localhost:%d\n", srv.Port())

		if mountNoAttach {
			fmt.Printf("Mount manually: mount -t nfs -o port=%d,mountport=%d,vers=3,tcp localhost:/ %s\n",
				srv.Port(), srv.Port(), mountpoint)
		} else {
			if err := forestmount.Mount(srv.Port(), mountpoint); err != nil {
				return err
			}
			fmt.Printf("Mounted at %s (read-only). Ctrl-C to unmount.\n", mountpoint)
			defer func() {
				if err := forestmount.Unmount(mountpoint); err != nil {
					fmt.Fprintf(os.Stderr, "unmount: %v\n", err)
				}
			}()
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("Shutting down.")
		return nil
	},
}

func init() {
	mountCmd.Flags().BoolVar(&mountNoAttach, "no-attach", false, "Start the NFS server without running the system mount command")
	rootCmd.AddCommand(mountCmd)
}
