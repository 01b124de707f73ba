// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/buildhub/archive"
	"storj.io/buildhub/kinto"
	"storj.io/buildhub/publish"
	"storj.io/buildhub/resolver"
	"storj.io/common/cfgstruct"
	"storj.io/common/fpath"
	"storj.io/common/process"
)

// Config defines the buildhub configuration.
type Config struct {
	Archive archive.ClientConfig
	Builder resolver.BuilderConfig
	Kinto   kinto.Config
	Publish publish.Config
}

var (
	rootCmd = &cobra.Command{
		Use:   "buildhub",
		Short: "Build archive metadata resolution and publishing",
	}
	resolveCmd = &cobra.Command{
		Use:   "resolve",
		Short: "Resolve inventory CSV from stdin into records on stdout",
		RunE:  cmdResolve,
	}
	publishCmd = &cobra.Command{
		Use:   "publish",
		Short: "Publish records from stdin into the document store",
		RunE:  cmdPublish,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}

	runCfg   Config
	setupCfg Config

	confDir string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("storj", "buildhub")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for buildhub configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(setupCmd)
	process.Bind(resolveCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(publishCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func cmdResolve(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	options, err := runCfg.Builder.Options()
	if err != nil {
		return err
	}

	client := archive.NewClient(log.Named("archive"), runCfg.Archive)
	res := resolver.NewResolver(log.Named("resolver"), client, resolver.NewCaches())
	builder := resolver.NewBuilder(log.Named("builder"), res, options)
	pipeline := resolver.NewPipeline(log.Named("pipeline"), builder, client.BaseURL())

	output := bufio.NewWriter(os.Stdout)
	defer func() { err = errs.Combine(err, output.Flush()) }()

	encoder := json.NewEncoder(output)
	return pipeline.Run(ctx, os.Stdin, func(record *archive.Record) error {
		return encoder.Encode(map[string]any{"data": record})
	})
}

func cmdPublish(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	client := kinto.NewClient(log.Named("kinto"), runCfg.Kinto)

	var cache *publish.HashCache
	if runCfg.Publish.SkipUnchanged {
		cache, err = publish.LoadHashCache(log.Named("hashcache"),
			runCfg.Publish.CacheFolder, client.Server(), client.Bucket(), client.Collection())
		if err != nil {
			return err
		}
		if err := cache.Refresh(ctx, client); err != nil {
			return err
		}
		if err := cache.Save(); err != nil {
			return err
		}
		log.Info("hash cache ready", zap.Int("records", cache.Len()))
	}

	publisher := publish.NewPublisher(log.Named("publisher"), client, runCfg.Publish, cache)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return publisher.Produce(ctx, os.Stdin)
	})
	group.Go(func() error {
		return publisher.Run(ctx)
	})
	return group.Wait()
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return fmt.Errorf("buildhub configuration already exists (%v)", setupDir)
	}

	err = os.MkdirAll(setupDir, 0700)
	if err != nil {
		return err
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func main() {
	process.Exec(rootCmd)
}
