package process

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"
)

// ManifestName is the playlist the segmenter writes into its output
// directory on success.
const ManifestName = "index.m3u8"

// SegmenterCommand builds:
//
//	hls_segmenter <input> <outDir> <ext>
//
// run inside outDir. ext is the input's extension, lowercased, without
// the dot.
func SegmenterCommand(bin, input, outDir string) (Command, error) {
	if input == "" || outDir == "" {
		return Command{}, errors.New("segmenter: input and output directory are required")
	}
	ext := FileExtension(input)
	if ext == "" {
		return Command{}, errors.New("segmenter: input file has no extension")
	}
	return NewCommand(bin, []string{input, outDir, ext}, outDir)
}

// DispatcherCommand builds:
//
//	hls_dispatcher <host> <port> <outDir> <manifest>
//
// run inside outDir.
func DispatcherCommand(bin, host string, port int, outDir, manifest string) (Command, error) {
	if host == "" {
		return Command{}, errors.New("dispatcher: host is required")
	}
	if port < 1 || port > 65535 {
		return Command{}, errors.New("dispatcher: port out of range")
	}
	if manifest == "" {
		manifest = ManifestName
	}
	return NewCommand(bin, []string{host, strconv.Itoa(port), outDir, manifest}, outDir)
}

// ClientCommand builds:
//
//	hls_client <index> <serverHost>
func ClientCommand(bin, index, host string) (Command, error) {
	if index == "" || host == "" {
		return Command{}, errors.New("client: index and server host are required")
	}
	return NewCommand(bin, []string{index, host}, "")
}

// FileExtension returns the lowercased extension of path without the dot.
func FileExtension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
