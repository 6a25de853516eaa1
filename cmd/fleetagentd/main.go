/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// fleetagentd is the fleet agent's entry point: it wires up the HAL
// simulators and collaborator packages, then hands control to the
// supervisor state machine until a signal or erase-credentials subcommand
// tells it to stop. The command structure follows ap-tools' cobra style.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fleetagent/internal/aputil"
	"fleetagent/internal/config"
	"fleetagent/internal/deviceagent"
	"fleetagent/internal/eventflags"
	"fleetagent/internal/hal/bootloader"
	"fleetagent/internal/hal/nvs"
	"fleetagent/internal/hal/radio"
	"fleetagent/internal/ota"
	"fleetagent/internal/provisioner"
	"fleetagent/internal/supervisor"
)

const pname = "fleetagentd"

var cfg = config.Default()

// buildVersion is overridden at link time with -ldflags, following the
// original firmware's build-stamped version string.
var buildVersion = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   pname,
		Short: "fleet agent firmware core",
	}

	// Config.RegisterFlags is written against the standard flag package;
	// fold it into cobra's pflag set rather than duplicating every flag
	// definition in pflag form.
	goFlags := flag.NewFlagSet(pname, flag.ContinueOnError)
	cfg.RegisterFlags(goFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)

	runCmd := &cobra.Command{
		Use:           "run",
		Short:         "run the agent's supervisor loop",
		RunE:          runAgent,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(runCmd)

	eraseCmd := &cobra.Command{
		Use:           "erase-credentials",
		Short:         "erase any stored Wi-Fi credentials, forcing re-provisioning on next run",
		RunE:          eraseCredentials,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(eraseCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print the firmware version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(buildVersion)
			return nil
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", pname, err)
		os.Exit(1)
	}
}

// storePath resolves the configured NVS path with aputil.ExpandDirPath: a
// path starting with a single '/' is placed under FLEETAGENT_ROOT, any
// other path is used as given.
func storePath() string {
	return aputil.ExpandDirPath(cfg.NVSPath)
}

func openStore() (*nvs.BoltStore, error) {
	return nvs.OpenBoltStore(storePath())
}

func eraseCredentials(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	return provisioner.EraseCredentials(store)
}

func runAgent(cmd *cobra.Command, args []string) error {
	log := aputil.NewLogger(pname)
	defer log.Sync()

	if buildVersion != "dev" {
		cfg.FirmwareVersion = buildVersion
	}

	path := storePath()
	firstBoot := !aputil.FileExists(path)

	store, err := nvs.OpenBoltStore(path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if firstBoot {
		log.Infof("no persistent store found at %s, treating this as a first boot", path)
	}

	bootDir := path + ".partitions"
	boot, err := bootloader.NewSim(bootDir)
	if err != nil {
		return fmt.Errorf("failed to initialize bootloader: %w", err)
	}

	rad := radio.NewSim()
	flags := eventflags.New()
	if err := rad.Init(flags); err != nil {
		return fmt.Errorf("failed to initialize radio: %w", err)
	}

	freeHeap := func() uint64 { return 1 << 30 }
	agent, err := deviceagent.New(store, cfg.ServerBaseURL, cfg.DefaultDeviceID, freeHeap, log)
	if err != nil {
		return fmt.Errorf("failed to initialize device agent: %w", err)
	}

	pipeline := ota.New(boot, cfg.ServerBaseURL, agent.DeviceID(), log)

	sup := supervisor.New(cfg, boot, rad, store, flags, pipeline, agent, log, freeHeap)

	ctx, cancel := context.WithCancel(context.Background())

	exitSig := make(chan os.Signal, 2)
	signal.Notify(exitSig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-exitSig
		log.Infof("received signal '%v', shutting down", s)
		cancel()
	}()

	log.Infof("%s %s starting, device id %s", pname, cfg.FirmwareVersion, agent.DeviceID())
	err = sup.Run(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
