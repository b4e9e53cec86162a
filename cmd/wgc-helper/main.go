//go:build windows

// Command wgc-helper is the out-of-process capture helper: it connects
// back to the host over the anonymous-handshake pipe, opens a Windows
// Graphics Capture session on the selected monitor, and publishes captured
// frames through a shared keyed-mutex texture. The host spawns this
// process; it is not meant to be started interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
	"github.com/lizardbyte/sunshine-wgc/internal/wgc"
)

var rootCmd = &cobra.Command{
	Use:   "wgc-helper",
	Short: "Sunshine WGC capture helper process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHelper()
	},
}

func init() {
	rootCmd.Flags().Int("parent-pid", 0, "host process PID that named the well-known handshake pipe")
	rootCmd.Flags().String("log-level", "info", "logrus level: trace, debug, info, warn, error")
	_ = rootCmd.MarkFlagRequired("parent-pid")

	viper.SetEnvPrefix("WGC_HELPER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	_ = viper.BindPFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runHelper() error {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		log.SetLevel(lvl)
	}
	entry := logrus.NewEntry(log)

	if err := wgc.RaisePerMonitorDPIAwareness(); err != nil {
		entry.WithError(err).Warn("wgc-helper: failed to raise DPI awareness, captures may be scaled")
	}

	parentPID := viper.GetInt("parent-pid")
	if parentPID == 0 {
		return fmt.Errorf("wgc-helper: --parent-pid is required")
	}

	hook := wgc.NewDesktopHook(entry)
	cfg := wgc.NewDefaultConfig(parentPID, ipc.WinTransport{}, hook)
	h := wgc.New(cfg, entry)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("wgc-helper: signalled, shutting down")
		cancel()
	}()

	entry.WithField("parentPid", parentPID).Info("wgc-helper: starting")
	if err := h.Run(ctx); err != nil {
		entry.WithError(err).Warn("wgc-helper: exiting")
	}
	return nil
}
