package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/geometry"
)

// ServiceScript is the MediaPipe vision service started by ServiceDetector.
const ServiceScript = "vision_service.py"

// ServiceIdleTimeout is how long the service process may sit unused before it is stopped.
const ServiceIdleTimeout = 30 * time.Second

// ErrServiceNotFound is returned when the vision service script cannot be located.
var ErrServiceNotFound = errors.New(ServiceScript + " not found")

// ServiceDetector implements Detector using a Python MediaPipe subprocess.
//
// Each request is a 4-byte big-endian payload length, an 8-byte big-endian
// timestamp in milliseconds, and a JPEG-encoded frame. The service answers with
// one JSON line per request.
type ServiceDetector struct {
	config     Config
	scriptPath string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	mu         sync.Mutex
	started    bool
	idleTimer  *time.Timer
	// idleGen identifies the current idle timer. A timer that fired while
	// waiting for mu finds a newer generation and does nothing.
	idleGen     uint64
	idleTimeout time.Duration
}

// NewServiceDetector creates a new MediaPipe service detector.
// The Python process is started lazily on first detection.
func NewServiceDetector(config Config) (*ServiceDetector, error) {
	scriptPath := findServiceScript()
	if scriptPath == "" {
		return nil, ErrServiceNotFound
	}

	return &ServiceDetector{
		config:      config,
		scriptPath:  scriptPath,
		idleTimeout: ServiceIdleTimeout,
	}, nil
}

// Detect sends a frame to the service and returns the filtered detections.
func (d *ServiceDetector) Detect(frame *gocv.Mat, timestampMs int64) ([]Candidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	if err := writeRequest(d.stdin, buf.GetBytes(), timestampMs); err != nil {
		return nil, err
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	cands, err := parseResponse(line)
	if err != nil {
		return nil, err
	}

	d.resetIdleTimer()

	return Filter(cands, d.config.Categories, d.config.MinScore), nil
}

// Close shuts down the Python process.
func (d *ServiceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *ServiceDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	task := d.config.Task
	if task == "" {
		task = TaskFace
	}

	d.cmd = exec.Command(pythonPath, d.scriptPath,
		"--task", task,
		"--min-score", strconv.FormatFloat(d.config.MinScore, 'f', -1, 64),
	)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start vision service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	return nil
}

func (d *ServiceDetector) shutdown() error {
	if !d.started {
		return nil
	}

	d.idleGen++
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

// resetIdleTimer restarts the idle countdown. Callers hold mu.
func (d *ServiceDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleGen++
	gen := d.idleGen
	d.idleTimer = time.AfterFunc(d.idleTimeout, func() {
		d.idleExpired(gen)
	})
}

// idleExpired stops the service if gen is still the current idle timer.
func (d *ServiceDetector) idleExpired(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.idleGen {
		return
	}
	if err := d.shutdown(); err != nil {
		log.Printf("vision service exited: %v", err)
	}
}

// writeRequest frames one detection request.
func writeRequest(w io.Writer, jpeg []byte, timestampMs int64) error {
	header := make([]byte, 12)
	binary.BigEndian.PutUint32(header[:4], uint32(len(jpeg)))
	binary.BigEndian.PutUint64(header[4:], uint64(timestampMs))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(jpeg); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// jsonDetection represents the JSON structure from the Python service.
type jsonDetection struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

func parseResponse(line []byte) ([]Candidate, error) {
	var response struct {
		Detections []jsonDetection `json:"detections"`
		Error      string          `json:"error"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("vision service: %s", response.Error)
	}

	cands := make([]Candidate, 0, len(response.Detections))
	for _, d := range response.Detections {
		cands = append(cands, Candidate{
			Box:      geometry.BoundingBox{X: d.X, Y: d.Y, Width: d.Width, Height: d.Height},
			Category: d.Category,
			Score:    d.Score,
		})
	}
	return cands, nil
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ServiceScript),
		filepath.Join("..", "scripts", ServiceScript),
		filepath.Join(execDir, "scripts", ServiceScript),
		filepath.Join(os.Getenv("HOME"), ".steadyshot", "scripts", ServiceScript),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".steadyshot/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
