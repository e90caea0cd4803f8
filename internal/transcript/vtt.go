package transcript

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Cue is one caption interval.
type Cue struct {
	Start float64 `json:"startTime"`
	End   float64 `json:"endTime"`
	Text  string  `json:"text"`
}

var ErrNotVTT = errors.New("missing WEBVTT header")

// ParseVTT reads a WebVTT document. Cue identifiers and settings are
// ignored, as are NOTE, STYLE and REGION blocks.
func ParseVTT(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vtt: %w", err)
	}

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) {
		return nil, ErrNotVTT
	}
	header := strings.TrimPrefix(lines[i], "\ufeff")
	if !strings.HasPrefix(header, "WEBVTT") {
		return nil, ErrNotVTT
	}
	i++

	cues := make([]Cue, 0)
	for _, block := range splitBlocks(lines[i:]) {
		first := block[0]
		if strings.HasPrefix(first, "NOTE") || strings.HasPrefix(first, "STYLE") || strings.HasPrefix(first, "REGION") {
			continue
		}
		timing := 0
		if !strings.Contains(first, "-->") {
			timing = 1
		}
		if timing >= len(block) || !strings.Contains(block[timing], "-->") {
			// Header metadata lines such as "Kind: captions".
			continue
		}
		start, end, err := parseTiming(block[timing])
		if err != nil {
			return nil, fmt.Errorf("cue %d: %w", len(cues)+1, err)
		}
		cues = append(cues, Cue{
			Start: start,
			End:   end,
			Text:  strings.Join(block[timing+1:], "\n"),
		})
	}
	return cues, nil
}

func splitBlocks(lines []string) [][]string {
	var blocks [][]string
	var current []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

func parseTiming(line string) (float64, float64, error) {
	left, right, _ := strings.Cut(line, "-->")
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("missing end timestamp in %q", line)
	}
	start, err := ParseTimestamp(left)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(fields[0])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("end %s before start %s", FormatTimestamp(end), FormatTimestamp(start))
	}
	return start, end, nil
}

// ParseTimestamp parses hh:mm:ss.ttt or mm:ss.ttt into seconds. A comma is
// accepted as the fraction separator.
func ParseTimestamp(ts string) (float64, error) {
	value := strings.Replace(strings.TrimSpace(ts), ",", ".", 1)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}

	var total float64
	for idx, part := range parts {
		last := idx == len(parts)-1
		if !isTimestampField(part, last) {
			return 0, fmt.Errorf("invalid timestamp %q", ts)
		}
		var n float64
		if last {
			f, err := strconv.ParseFloat(part, 64)
			if err != nil || f >= 60 {
				return 0, fmt.Errorf("invalid timestamp %q", ts)
			}
			n = f
		} else {
			v, err := strconv.Atoi(part)
			if err != nil || (idx > 0 && v >= 60) {
				return 0, fmt.Errorf("invalid timestamp %q", ts)
			}
			n = float64(v)
		}
		total = total*60 + n
	}
	return total, nil
}

// isTimestampField reports whether part is all digits, allowing one decimal
// point in the seconds field.
func isTimestampField(part string, seconds bool) bool {
	if part == "" {
		return false
	}
	dots := 0
	for i := 0; i < len(part); i++ {
		switch c := part[i]; {
		case c >= '0' && c <= '9':
		case c == '.' && seconds && i > 0:
			dots++
		default:
			return false
		}
	}
	return dots <= 1
}

// FormatTimestamp renders seconds as hh:mm:ss.ttt.
func FormatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// WriteVTT renders cues as a WebVTT document.
func WriteVTT(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("WEBVTT\n"); err != nil {
		return fmt.Errorf("write vtt header: %w", err)
	}
	for _, c := range cues {
		if _, err := fmt.Fprintf(bw, "\n%s --> %s\n%s\n", FormatTimestamp(c.Start), FormatTimestamp(c.End), c.Text); err != nil {
			return fmt.Errorf("write vtt cue: %w", err)
		}
	}
	return bw.Flush()
}
