//go:build windows

// Command wgc-host is the capture-side process of the WGC subsystem: it
// spawns and supervises the wgc-helper process, drives the shared-surface
// session, and exposes a Selector an encoder loop can pull frames from.
// Standing this repo up as a library consumed by a larger encoder process
// is the common case; this binary exercises the same code path standalone
// for manual testing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lizardbyte/sunshine-wgc/internal/capture"
	"github.com/lizardbyte/sunshine-wgc/internal/d3d11"
	"github.com/lizardbyte/sunshine-wgc/internal/dxgidup"
	"github.com/lizardbyte/sunshine-wgc/internal/ipc"
	"github.com/lizardbyte/sunshine-wgc/internal/session"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "wgc-host",
	Short: "Sunshine WGC capture host process",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Spawn the helper and drive the capture session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wgc-host v%s\n", version)
	},
}

func init() {
	runCmd.Flags().String("display", "", "GDI device name of the monitor to capture, e.g. \\\\.\\DISPLAY1 (default: primary)")
	runCmd.Flags().String("adapter-luid", "", "adapter LUID as low:high hex (default: primary adapter)")
	runCmd.Flags().Bool("hdr", false, "request HDR (R16G16B16A16_FLOAT) instead of SDR (B8G8R8A8_UNORM)")
	runCmd.Flags().String("log-level", "info", "logrus level: trace, debug, info, warn, error")
	runCmd.Flags().String("helper-exe", "wgc-helper.exe", "path to the helper executable")
	runCmd.Flags().Int("parent-pid", os.Getpid(), "PID advertised to the helper for pipe naming (override for tests)")
	rootCmd.AddCommand(runCmd, versionCmd)

	viper.SetEnvPrefix("WGC_HOST")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	_ = viper.BindPFlags(runCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseLUID(s string) (ipc.AdapterLUID, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ipc.AdapterLUID{}, false
	}
	low, errLow := strconv.ParseUint(parts[0], 16, 32)
	high, errHigh := strconv.ParseInt(parts[1], 16, 32)
	if errLow != nil || errHigh != nil {
		return ipc.AdapterLUID{}, false
	}
	return ipc.AdapterLUID{Low: uint32(low), High: int32(high)}, true
}

func runHost() error {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		log.SetLevel(lvl)
	}
	entry := logrus.NewEntry(log)

	luid, ok := parseLUID(viper.GetString("adapter-luid"))
	if !ok {
		primary, err := d3d11.PrimaryAdapterLUID()
		if err != nil {
			return fmt.Errorf("wgc-host: no adapter LUID given and primary adapter lookup failed: %w", err)
		}
		luid = ipc.AdapterLUID{Low: primary.LowPart, High: primary.HighPart}
	}

	dynamicRange := int32(0)
	if viper.GetBool("hdr") {
		dynamicRange = 1
	}

	parentPID := viper.GetInt("parent-pid")
	helperExe, err := filepath.Abs(viper.GetString("helper-exe"))
	if err != nil {
		helperExe = viper.GetString("helper-exe")
	}

	cfg := session.Config{
		ParentPID:    parentPID,
		HelperExe:    helperExe,
		HelperArgs:   []string{"--parent-pid", strconv.Itoa(parentPID)},
		DisplayName:  viper.GetString("display"),
		DynamicRange: dynamicRange,
		LogLevel:     int32(log.GetLevel()),
		AdapterLUID:  luid,
		Transport:    ipc.WinTransport{},
		OpenTexture:  session.NewOpenTextureFunc(luid),
	}
	sess := session.New(cfg, entry)
	wgcBackend := capture.NewWGCBackend(sess, entry)

	var dxgiBackend capture.Backend
	if dup, err := dxgidup.NewDuplicator(); err != nil {
		entry.WithError(err).Warn("wgc-host: DXGI duplication unavailable, secure-desktop fallback disabled")
	} else {
		dxgiBackend = dxgidup.NewBackend(dup, func() bool { return dxgidup.SecureDesktopActive(entry) }, entry)
	}

	selector := capture.NewSelector(wgcBackend, dxgiBackend, entry)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("wgc-host: shutting down")
		cancel()
	}()

	entry.WithFields(logrus.Fields{"version": version, "parentPid": parentPID}).Info("wgc-host: starting capture loop")
	for {
		select {
		case <-ctx.Done():
			sess.Cleanup()
			return nil
		default:
		}

		_, result := selector.Snapshot(ctx, nil, 100*time.Millisecond, true)
		switch result {
		case capture.ResultOK:
			selector.ReleaseSnapshot()
		case capture.ResultTimeout:
		case capture.ResultSwapCapture:
			entry.WithField("active", selector.Active()).Info("wgc-host: backend swapped")
		case capture.ResultReinit:
			entry.Debug("wgc-host: reinit requested")
			time.Sleep(250 * time.Millisecond)
		case capture.ResultError:
			time.Sleep(250 * time.Millisecond)
		case capture.ResultInterrupted:
			sess.Cleanup()
			return nil
		}
	}
}
