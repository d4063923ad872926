package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"proofread/internal/models"
	"proofread/pkg/config"
	"proofread/pkg/logging"
	"proofread/pkg/server"
	"proofread/pkg/session"
	"proofread/pkg/visualization"
	"proofread/pkg/volumeio"
)

func main() {
	configPath := flag.String("config", "proofread.yaml", "YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	host := flag.String("host", "", "Listen host (overrides config)")
	port := flag.Int("port", 0, "Listen port (overrides config)")
	imagePath := flag.String("image", "", "Align a mask to this image offline instead of serving")
	maskPath := flag.String("mask", "", "Mask to align with -image (empty creates a blank mask)")
	outPath := flag.String("out", "", "Where to write the aligned mask (default <image>_mask.<ext>)")
	previewDir := flag.String("preview-dir", "", "Write overlay PNGs of every slice to this directory")
	region := flag.String("region", "", "Limit previews to the subvolume x,y,z,sx,sy,sz")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	cfg.Logging.SetLogger()
	defer logging.Shutdown()

	sess := session.New(&session.Params{
		UploadDir: cfg.Server.UploadDir,
		Load:      cfg.LoadOptions(),
		Save:      cfg.SaveOptions(),
	})

	if *imagePath != "" {
		if err := runOffline(sess, cfg.SaveOptions(), *imagePath, *maskPath, *outPath, *previewDir, *region); err != nil {
			logging.Criticalf("%v", err)
			logging.Shutdown()
			os.Exit(1)
		}
		return
	}

	if err := server.New(sess).ListenAndServe(cfg.Addr(), cfg.Server.AllowedOrigins); err != nil {
		logging.Criticalf("Server stopped: %v", err)
		logging.Shutdown()
		os.Exit(1)
	}
}

// runOffline aligns one mask to one image, writes it and prints a report.
func runOffline(sess *session.Session, saveOpts volumeio.SaveOptions, imagePath, maskPath, outPath, previewDir, region string) error {
	startTime := time.Now()
	if err := sess.Load(imagePath, maskPath, models.LoadFromPath); err != nil {
		return fmt.Errorf("load failed: %w", err)
	}
	info := sess.Snapshot()

	var saved string
	if outPath == "" {
		path, err := sess.Save()
		if err != nil {
			return fmt.Errorf("save failed: %w", err)
		}
		saved = path
	} else {
		mask, err := sess.Mask()
		if err != nil {
			return err
		}
		if err := volumeio.PersistMask(mask, outPath, saveOpts); err != nil {
			return fmt.Errorf("save failed: %w", err)
		}
		saved = outPath
	}

	fmt.Println("================================")
	fmt.Printf("Image:      %s\n", imagePath)
	fmt.Printf("Shape:      %v (%d slice(s))\n", info.Shape, info.Slices)
	fmt.Printf("Intensity:  min %.0f, max %.0f, mean %.2f, std %.2f\n",
		info.Stats.Min, info.Stats.Max, info.Stats.Mean, info.Stats.StdDev)
	fmt.Printf("Mask:       %s\n", info.Alignment)
	if info.Alignment.Lossy {
		fmt.Println("WARNING:    mask was resampled from its first slice; per-slice labels were lost")
	}
	fmt.Printf("Foreground: %d voxel(s)\n", info.MaskVoxels)
	fmt.Printf("Saved to:   %s\n", saved)
	fmt.Printf("Done in %.2f seconds\n", time.Since(startTime).Seconds())

	if previewDir == "" {
		return nil
	}
	vol, err := sess.Volume()
	if err != nil {
		return err
	}
	mask, err := sess.Mask()
	if err != nil {
		return err
	}
	viewer, err := visualization.NewViewer(vol, mask)
	if err != nil {
		return err
	}
	if region != "" {
		r, err := visualization.ParseRegion(region)
		if err != nil {
			return err
		}
		if viewer, err = viewer.Crop(r[0], r[1], r[2], r[3], r[4], r[5]); err != nil {
			return fmt.Errorf("region: %w", err)
		}
	}
	for _, axis := range []string{"x", "y", "z"} {
		axisDir := filepath.Join(previewDir, axis)
		if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
			logging.Warningf("Failed to save %s-axis slices: %v", axis, err)
		}
	}
	fmt.Printf("Previews written to %s\n", previewDir)
	return nil
}
