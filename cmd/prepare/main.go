// Command prepare downloads the Cholec80 archive, optionally verifies its
// MD5 checksum, extracts it under --data_rootdir and points the dataset
// configuration at the extracted corpus.
//
// Usage:
//
//	go run ./cmd/prepare --data_rootdir /data --verify_checksum --checksum_file checksum.txt
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/cholec80/config"
	"github.com/Noofbiz/cholec80/provision"
)

func main() {
	klog.InitFlags(nil)
	rootDir := flag.String("data_rootdir", "", "directory receiving the archive and the extracted corpus (required)")
	verify := flag.Bool("verify_checksum", false, "verify the archive's MD5 before extracting it")
	keep := flag.Bool("keep_archive", false, "keep the archive after extraction")
	configPath := flag.String("config", config.DefaultPath, "configuration file to update with the corpus location")
	url := flag.String("url", provision.DefaultURL, "archive URL")
	checksum := flag.String("checksum", "", "reference MD5 digest (hex)")
	checksumFile := flag.String("checksum_file", "checksum.txt", "file holding the reference MD5 digest, used when --checksum is empty")
	flag.Parse()
	defer klog.Flush()

	if *rootDir == "" {
		fmt.Fprintln(os.Stderr, "--data_rootdir is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := provision.Run(ctx, provision.Options{
		URL:            *url,
		RootDir:        *rootDir,
		VerifyChecksum: *verify,
		Checksum:       *checksum,
		ChecksumFile:   *checksumFile,
		KeepArchive:    *keep,
		ConfigPath:     *configPath,
		Client:         provision.NewClient(),
		Logger:         klog.Background(),
	})
	if err != nil {
		klog.Flush()
		klog.Fatalf("prepare failed: %v", err)
	}

	fmt.Printf("Downloaded %s to %s\n", humanize.Bytes(uint64(res.Bytes)), res.Archive)
	if res.Checksum != "" {
		fmt.Printf("Checksum: %s\n", res.Checksum)
	}
	fmt.Printf("Extracted to %s\n", res.Dir)
	fmt.Printf("All done - config saved to %s\n", res.ConfigPath)
}
