// Package file implements C1, the inode-tracked file tailer: follow one
// path across rotation and truncation, optionally persisting the read
// position to a marker file, with skip/grep line filtering.
package file

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/wharfinger/wharfinger/internal/config"
	"github.com/wharfinger/wharfinger/internal/logging"
	"github.com/wharfinger/wharfinger/plugins/inputs"
)

// readChunk is how much is read from the file handle per underlying Read
// call, independent of how many complete lines a pull actually needs —
// any bytes read past the last newline stay buffered in tailer.partial.
const readChunk = 64 * 1024

func init() {
	inputs.Add("file", New)
}

// maxGraceEOFPulls bounds the rotation grace window: 20 consecutive EOF
// pulls at the 500ms default poll interval is ~10s (spec §4.1).
const maxGraceEOFPulls = 20

// markerLen is the fixed width of the position-marker file: two
// zero-padded 14-digit decimal fields separated by a colon.
const markerLen = 29

type spawner struct {
	cfg  *config.InputConfig
	log  logging.Logger
	path string // the configured path: a literal path or a glob pattern

	savePosition  bool
	startAtBegin  bool
	skip          []*regexp.Regexp
	grep          []*regexp.Regexp
}

// New builds the file kind's Spawner from one `input { file { ... } }` block.
func New(cfg *config.InputConfig, log logging.Logger) (inputs.Spawner, error) {
	raw := cfg.Raw
	skip, err := compileAll(raw.All("skip"))
	if err != nil {
		return nil, fmt.Errorf("skip: %w", err)
	}
	grep, err := compileAll(raw.All("grep"))
	if err != nil {
		return nil, fmt.Errorf("grep: %w", err)
	}

	path := raw.String("path")
	s := &spawner{
		cfg:          cfg,
		log:          log,
		path:         path,
		savePosition: raw.Bool("save_position", false),
		startAtBegin: raw.StringDefault("start_position", "end") == "begin",
		skip:         skip,
		grep:         grep,
	}
	return s, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (s *spawner) Pattern() string { return s.path }

// Spawn binds to the literal configured path (not a glob pattern); used
// for ordinary, non-discovered file inputs.
func (s *spawner) Spawn() (inputs.Puller, error) {
	if strings.ContainsAny(s.path, "*?[") {
		return nil, fmt.Errorf("path %q contains glob metacharacters, must be discovered via watch", s.path)
	}
	return s.newTailer(s.path, s.startAtBegin), nil
}

// SpawnPath binds to one path discovered through glob-watch rescanning:
// always begins at offset 0 (spec §4.6 step 1: "start_position=begin").
func (s *spawner) SpawnPath(path string) (inputs.Puller, error) {
	return s.newTailer(path, true), nil
}

func (s *spawner) newTailer(path string, begin bool) *tailer {
	return &tailer{
		path:         path,
		startAtBegin: begin,
		savePosition: s.savePosition,
		skip:         s.skip,
		grep:         s.grep,
		log:          s.log,
	}
}

// tailer is the per-path tail state machine (spec §3 "Tail state").
type tailer struct {
	path         string
	startAtBegin bool
	savePosition bool
	skip, grep   []*regexp.Regexp
	log          logging.Logger

	handle   *os.File
	partial  []byte // bytes read since the last '\n', not yet a complete line
	inode    uint64
	position int64
	eofPulls int

	// reopenFromStart is set when the rotation grace window closes the
	// handle (spec §4.1 "the next pull opens the new file from offset
	// 0"), forcing the next open() to ignore start_position/save_position
	// and begin at 0 regardless of this input's normal start-position
	// policy.
	reopenFromStart bool
}

func (t *tailer) markerPath() string { return t.path + ".pos" }

func (t *tailer) Close() error {
	if t.handle == nil {
		return nil
	}
	err := t.handle.Close()
	t.handle = nil
	return err
}

// Pull implements inputs.Puller. ok=false is the contract's "null".
func (t *tailer) Pull(max int) ([]string, bool) {
	if t.handle == nil {
		if err := t.open(); err != nil {
			t.log.Warnf("file %s: open failed: %v", t.path, err)
			return nil, true
		}
	}

	t.checkTruncation()

	lines, readErr := t.readLines(max)
	if readErr != nil && readErr != io.EOF {
		t.log.Warnf("file %s: read failed: %v", t.path, readErr)
		_ = t.Close()
		return nil, false
	}

	if readErr == io.EOF {
		if done := t.handleEOF(); done {
			return filterLines(lines, t.skip, t.grep), true
		}
	} else {
		t.eofPulls = 0
	}

	if t.savePosition && len(lines) > 0 {
		t.persistPosition()
	}

	return filterLines(lines, t.skip, t.grep), true
}

func (t *tailer) open() error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	inode, err := inodeOf(t.path)
	if err != nil {
		_ = f.Close()
		return err
	}

	var start int64
	if t.reopenFromStart {
		t.reopenFromStart = false
	} else if t.savePosition {
		if pos, markerInode, ok := readMarker(t.markerPath()); ok && markerInode == inode {
			start = pos
		} else if !t.startAtBegin {
			start = statSize(f)
		}
	} else if !t.startAtBegin {
		start = statSize(f)
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		_ = f.Close()
		return err
	}

	t.handle = f
	t.partial = nil
	t.inode = inode
	t.position = start
	t.eofPulls = 0
	return nil
}

// checkTruncation implements spec §4.1 "Truncation": if the open handle's
// current size has fallen below the stored position, the writer replaced
// the file's contents out from under us without rotating it — seek back
// to the start and resume from there.
func (t *tailer) checkTruncation() {
	fi, err := t.handle.Stat()
	if err != nil || fi.Size() >= t.position {
		return
	}
	t.position = 0
	_, _ = t.handle.Seek(0, io.SeekStart)
	t.partial = nil
}

// readLines pulls complete lines out of t.partial, refilling it from the
// handle as needed. Unlike bufio.Reader.ReadString, bytes read past the
// last newline are kept in t.partial rather than discarded on EOF, so a
// line split across two pulls (the writer hadn't flushed the newline yet)
// is reassembled correctly on the next pull instead of being dropped.
func (t *tailer) readLines(max int) ([]string, error) {
	var lines []string
	buf := make([]byte, readChunk)

	for len(lines) < max {
		for len(lines) < max {
			idx := bytes.IndexByte(t.partial, '\n')
			if idx < 0 {
				break
			}
			lines = append(lines, string(t.partial[:idx]))
			t.position += int64(idx + 1)
			t.partial = t.partial[idx+1:]
		}
		if len(lines) >= max {
			break
		}

		n, err := t.handle.Read(buf)
		if n > 0 {
			t.partial = append(t.partial, buf[:n]...)
		}
		if err != nil {
			return lines, err
		}
		if n == 0 {
			return lines, io.EOF
		}
	}
	return lines, nil
}

// handleEOF re-stats the path on every EOF pull, running the rotation
// grace window (spec §4.1 "Rotation detection"). Returns true once the
// grace window has expired and the handle has been torn down, signalling
// the caller that this pull's result is final (reopen happens next pull).
func (t *tailer) handleEOF() bool {
	inode, statErr := inodeOf(t.path)
	rotated := statErr != nil || inode != t.inode

	if !rotated {
		// Truncation is handled proactively by checkTruncation at the top
		// of every Pull; nothing further to do here.
		t.eofPulls = 0
		return false
	}

	t.eofPulls++
	if t.eofPulls < maxGraceEOFPulls {
		return false
	}

	_ = t.Close()
	t.eofPulls = 0
	t.reopenFromStart = true
	return true
}

func statSize(f *os.File) int64 {
	fi, err := f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (t *tailer) persistPosition() {
	marker := fmt.Sprintf("%014d:%014d", t.inode, t.position)
	f, err := os.OpenFile(t.markerPath(), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.log.Warnf("file %s: writing marker: %v", t.path, err)
		return
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte(marker), 0); err != nil {
		t.log.Warnf("file %s: writing marker: %v", t.path, err)
		return
	}
	if err := f.Truncate(markerLen); err != nil {
		t.log.Warnf("file %s: truncating marker: %v", t.path, err)
		return
	}
	_ = f.Sync()
}

func readMarker(path string) (pos int64, inode uint64, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) != markerLen {
		return 0, 0, false
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	inodeVal, err1 := strconv.ParseUint(parts[0], 10, 64)
	posVal, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return posVal, inodeVal, true
}

// filterLines applies skip then grep, in declaration order (spec §4.1,
// §9 open question: skip always runs first).
func filterLines(lines []string, skip, grep []*regexp.Regexp) []string {
	if len(skip) == 0 && len(grep) == 0 {
		return lines
	}
	out := lines[:0:0]
	for _, line := range lines {
		if anyMatch(skip, line) {
			continue
		}
		if len(grep) > 0 && !anyMatch(grep, line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func anyMatch(patterns []*regexp.Regexp, line string) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
