// Copyright 2018 Zanicar. All rights reserved.
// Utilizes a BSD-3 license. Refer to the included LICENSE file for details.

package main

import (
	"bytes"
	"compress/zlib"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/zanicar/steganofs"
	"github.com/zanicar/steganofs/internal/carrier"
	"github.com/zanicar/steganofs/internal/config"
)

type opts struct {
	zip        bool
	iterations int
}

func usage() {
	fmt.Printf("steganofs: correct usage examples:\n")
	fmt.Printf("\t> steganofs [options] -conceal -data {datafile} -in {inputfile} -out {outputfile}\n")
	fmt.Printf("\t> steganofs [options] -reveal -in {inputfile} -out {outputfile}\n")
	fmt.Printf("\nsupported carrier formats: %s\n", strings.Join(carrier.SupportedFormats(), ", "))
}

func conceal(dataFile, inputFile, outputFile, password string, options opts) error {
	data, err := os.ReadFile(dataFile)
	if err != nil {
		return fmt.Errorf("data file: %w", err)
	}

	if options.zip {
		zdata, err := compress(data)
		if err != nil {
			return fmt.Errorf("compress: %w", err)
		}
		data = zdata
	}

	carrierBytes, err := os.ReadFile(inputFile)
	if err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	f, err := steganofs.OpenMemoryWithIterations(carrierBytes, password, "w", options.iterations)
	if err != nil {
		return fmt.Errorf("conceal: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("conceal: %w", err)
	}

	image, err := f.CommitToMemory()
	if err != nil {
		return fmt.Errorf("conceal: %w", err)
	}
	if err := os.WriteFile(outputFile, image, 0o644); err != nil {
		return fmt.Errorf("output file: %w", err)
	}

	log.Printf("%d bytes concealed into %s", len(data), outputFile)
	return nil
}

func reveal(inputFile, outputFile, password string, options opts) error {
	f, err := steganofs.OpenWithIterations(inputFile, password, "r", options.iterations)
	if err != nil {
		return fmt.Errorf("reveal: %w", err)
	}
	defer f.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, f); err != nil {
		return fmt.Errorf("reveal: %w", err)
	}

	if options.zip {
		zdata, err := decompress(buf.Bytes())
		if err != nil {
			return fmt.Errorf("decompress: %w", err)
		}
		buf.Reset()
		if _, err := buf.Write(zdata); err != nil {
			return fmt.Errorf("decompress: %w", err)
		}
	}

	wfh, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("output file: %w", err)
	}
	defer wfh.Close()

	if _, err := buf.WriteTo(wfh); err != nil {
		return fmt.Errorf("output file: %w", err)
	}

	log.Printf("%d bytes revealed to %s", buf.Len(), outputFile)
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	n, err := zw.Write(data)
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	log.Printf("%d bytes compressed to %d bytes", n, buf.Len())
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var obuf bytes.Buffer
	if _, err := io.Copy(&obuf, zr); err != nil {
		return nil, err
	}
	log.Printf("%d bytes decompressed to %d bytes", len(data), obuf.Len())
	return obuf.Bytes(), nil
}

// readPassword prompts on the terminal without echo when key is empty,
// rather than accepting a secret only via a plaintext flag argument.
func readPassword(key string) (string, error) {
	if key != "" {
		return key, nil
	}
	fmt.Fprint(os.Stderr, "password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func main() {
	log.SetFlags(0)
	log.SetOutput(io.Discard)

	var fhelp bool
	flag.BoolVar(&fhelp, "h", false, "help")

	var fverbose bool
	flag.BoolVar(&fverbose, "v", false, "verbose mode")

	var fconceal, freveal bool
	flag.BoolVar(&fconceal, "conceal", false, "executes the conceal operation")
	flag.BoolVar(&freveal, "reveal", false, "executes the reveal operation")

	var dataFile, inputFile, outputFile string
	flag.StringVar(&dataFile, "data", "", "path to data file")
	flag.StringVar(&inputFile, "in", "", "path to input file")
	flag.StringVar(&outputFile, "out", "", "path to output file (create, overwrite)")

	var fzip bool
	flag.BoolVar(&fzip, "z", false, "applies zip compression or decompression")

	var key string
	flag.StringVar(&key, "key", "", "password (omit to be prompted without echo)")

	var configPath string
	flag.StringVar(&configPath, "config", "", "optional path to a YAML config file")

	flag.Parse()

	if fhelp {
		usage()
		fmt.Printf("\nflag and option details:\n")
		flag.PrintDefaults()
		return
	}

	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.SetOutput(os.Stderr)
			log.Fatal(err)
		}
		cfg = loaded
	}

	if cfg.VerboseOr(fverbose) {
		log.SetOutput(os.Stderr)
	}

	options := opts{
		zip:        fzip,
		iterations: cfg.IterationsOr(10000),
	}

	password, err := readPassword(key)
	if err != nil {
		log.SetOutput(os.Stderr)
		log.Fatal(err)
	}

	if fconceal && dataFile != "" && inputFile != "" && outputFile != "" && !freveal {
		if err := conceal(dataFile, inputFile, outputFile, password, options); err != nil {
			log.SetOutput(os.Stderr)
			log.Fatal(err)
		}
		return
	}

	if freveal && inputFile != "" && outputFile != "" && !fconceal {
		if err := reveal(inputFile, outputFile, password, options); err != nil {
			log.SetOutput(os.Stderr)
			log.Fatal(err)
		}
		return
	}

	usage()
}
