package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AudioExtensions lists the input formats the segmenter accepts.
var AudioExtensions = []string{".mp3", ".flac"}

// ErrMissingPort is wrapped when a server URL has no explicit port.
var ErrMissingPort = errors.New("URL must include a port number (e.g., http://example.com:8080)")

// ServerURL is a validated dispatcher address.
type ServerURL struct {
	Normalized string // scheme://host:port[/path]
	Host       string // hostname without brackets
	Port       int
}

// ValidateServerURL normalizes and checks a user-supplied server URL.
// A bare "host:port" gets an http:// scheme. The port must be explicit.
func ValidateServerURL(raw string) (ServerURL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ServerURL{}, invalid("server_url", "must not be empty")
	}

	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return ServerURL{}, &ValidationError{Field: "server_url", Message: "invalid URL", Err: err}
	}
	if u.Hostname() == "" {
		return ServerURL{}, invalid("server_url", "URL must have a host")
	}

	portStr := u.Port()
	if portStr == "" {
		return ServerURL{}, &ValidationError{Field: "server_url", Message: ErrMissingPort.Error(), Err: ErrMissingPort}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return ServerURL{}, invalid("server_url", "port must be between 1 and 65535 (got %q)", portStr)
	}

	return ServerURL{
		Normalized: u.String(),
		Host:       u.Hostname(),
		Port:       port,
	}, nil
}

// Address returns host:port.
func (s ServerURL) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ValidateClient checks the player fields: a non-empty host and a
// non-negative base-10 client index.
func ValidateClient(host, index string) error {
	var errs []error
	if strings.TrimSpace(host) == "" {
		errs = append(errs, invalid("server_host", "must not be empty"))
	}
	if index == "" {
		errs = append(errs, invalid("client_index", "must not be empty"))
	} else if !isDecimal(index) {
		errs = append(errs, invalid("client_index", "must be a non-negative integer (got %q)", index))
	}
	return errors.Join(errs...)
}

// isDecimal reports whether s is only ASCII digits and fits in an int32.
func isDecimal(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	_, err := strconv.ParseUint(s, 10, 31)
	return err == nil
}

// ValidateInputFile checks that path is a regular file with a supported
// audio extension.
func ValidateInputFile(path string) error {
	if path == "" {
		return invalid("input", "no audio file selected")
	}
	info, err := os.Stat(path)
	if err != nil {
		return &ValidationError{Field: "input", Message: err.Error(), Err: err}
	}
	if !info.Mode().IsRegular() {
		return invalid("input", "%s is not a regular file", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range AudioExtensions {
		if ext == allowed {
			return nil
		}
	}
	return invalid("input", "unsupported extension %q (want one of %s)", ext, strings.Join(AudioExtensions, ", "))
}

// ValidateOutputDir checks that path is an existing directory and reports
// whether it is empty. A non-empty directory must be confirmed before it
// is cleared.
func ValidateOutputDir(path string) (empty bool, err error) {
	if path == "" {
		return false, invalid("output_dir", "no output directory selected")
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, &ValidationError{Field: "output_dir", Message: err.Error(), Err: err}
	}
	if !info.IsDir() {
		return false, invalid("output_dir", "%s is not a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return false, &ValidationError{Field: "output_dir", Message: err.Error(), Err: err}
	}
	defer f.Close()

	names, err := f.Readdirnames(1)
	if len(names) > 0 {
		return false, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return false, &ValidationError{Field: "output_dir", Message: err.Error(), Err: err}
	}
	return true, nil
}

// StreamRequest is everything a streaming run needs from the user.
type StreamRequest struct {
	Input     string
	OutputDir string
	ServerURL string

	// ConfirmClear records that the user agreed to delete the existing
	// contents of OutputDir. Without it a non-empty directory is left as is.
	ConfirmClear bool
}

// Validate checks every field and returns the parsed server URL.
func (r StreamRequest) Validate() (ServerURL, error) {
	var errs []error

	if err := ValidateInputFile(r.Input); err != nil {
		errs = append(errs, err)
	}
	if _, err := ValidateOutputDir(r.OutputDir); err != nil {
		errs = append(errs, err)
	}
	server, err := ValidateServerURL(r.ServerURL)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return ServerURL{}, errors.Join(errs...)
	}
	return server, nil
}

// ClientConfig is the player request.
type ClientConfig struct {
	ServerHost  string
	ClientIndex string
}

// Validate checks the client fields.
func (c ClientConfig) Validate() error {
	return ValidateClient(c.ServerHost, c.ClientIndex)
}

func (c ClientConfig) String() string {
	return fmt.Sprintf("client %s @ %s", c.ClientIndex, c.ServerHost)
}
