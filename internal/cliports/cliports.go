// Package cliports implements the repeatable --ports flag: a custom
// flag.Value that parses "port:tempdir[:destdir[:write_timeout[,fmt,...]]]"
// specs, carrying write_timeout and formats forward from the previous
// occurrence when omitted, and rejecting a tempdir remapped to a
// different destdir across specs.
package cliports

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format is an output format requested for a port.
type Format string

const (
	FormatCflowd Format = "cflowd"
	FormatIPFIX  Format = "ipfix"
)

// Spec is one fully-resolved port specification (after inheritance is
// applied).
type Spec struct {
	Port         uint16
	TempDir      string
	DestDir      string
	WriteTimeout time.Duration
	Formats      []Format
}

const defaultWriteTimeout = 300 * time.Second

// List accumulates Spec values across repeated --ports flags,
// implementing flag.Value. The zero value is ready to use.
type List struct {
	Specs []Spec

	haveLast    bool
	lastTimeout time.Duration
	lastFormats []Format
	tempToDest  map[string]string
}

// String implements flag.Value.
func (l *List) String() string {
	if l == nil || len(l.Specs) == 0 {
		return ""
	}
	parts := make([]string, len(l.Specs))
	for i, s := range l.Specs {
		formats := make([]string, len(s.Formats))
		for j, f := range s.Formats {
			formats[j] = string(f)
		}
		parts[i] = fmt.Sprintf("%d:%s:%s:%d,%s",
			s.Port, s.TempDir, s.DestDir, int(s.WriteTimeout/time.Second), strings.Join(formats, ","))
	}
	return strings.Join(parts, " ")
}

// Set implements flag.Value, parsing one --ports occurrence of the
// form "port:tempdir[:destdir[:write_timeout[,fmt,...]]]". The 4th
// colon-delimited field, when present, is itself
// "write_timeout[,fmt,fmt,...]" so formats can be given without
// repeating write_timeout, and vice versa by omitting the comma tail.
func (l *List) Set(value string) error {
	fields := strings.SplitN(value, ":", 4)
	if len(fields) < 2 {
		return fmt.Errorf("cliports: %q: want port:tempdir[:destdir[:write_timeout[,fmt,...]]]", value)
	}

	if l.tempToDest == nil {
		l.tempToDest = make(map[string]string)
	}
	if !l.haveLast {
		l.lastTimeout = defaultWriteTimeout
		l.lastFormats = []Format{FormatCflowd}
	}

	portNum, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil || portNum == 0 || portNum > 65535 {
		return fmt.Errorf("cliports: %q: invalid port %q", value, fields[0])
	}

	tempDir := fields[1]
	if tempDir == "" {
		return fmt.Errorf("cliports: %q: temp dir must not be empty", value)
	}

	destDir := tempDir
	if len(fields) >= 3 && fields[2] != "" {
		destDir = fields[2]
	}

	writeTimeout := l.lastTimeout
	formats := l.lastFormats

	if len(fields) == 4 && fields[3] != "" {
		rest := strings.SplitN(fields[3], ",", 2)
		secs, err := strconv.Atoi(rest[0])
		if err != nil || secs <= 0 {
			return fmt.Errorf("cliports: %q: invalid write_timeout %q", value, rest[0])
		}
		writeTimeout = time.Duration(secs) * time.Second

		if len(rest) == 2 {
			fs, err := parseFormats(rest[1])
			if err != nil {
				return err
			}
			formats = fs
		}
	}

	if existing, ok := l.tempToDest[tempDir]; ok && existing != destDir {
		return fmt.Errorf("cliports: temp dir %q already maps to dest dir %q, cannot also map to %q",
			tempDir, existing, destDir)
	}
	l.tempToDest[tempDir] = destDir

	l.lastTimeout = writeTimeout
	l.lastFormats = formats
	l.haveLast = true

	l.Specs = append(l.Specs, Spec{
		Port:         uint16(portNum),
		TempDir:      tempDir,
		DestDir:      destDir,
		WriteTimeout: writeTimeout,
		Formats:      formats,
	})
	return nil
}

func parseFormats(raw string) ([]Format, error) {
	parts := strings.Split(raw, ",")
	out := make([]Format, 0, len(parts))
	for _, p := range parts {
		switch Format(strings.TrimSpace(p)) {
		case FormatCflowd:
			out = append(out, FormatCflowd)
		case FormatIPFIX:
			out = append(out, FormatIPFIX)
		default:
			return nil, fmt.Errorf("cliports: unknown format %q", p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("cliports: empty format list")
	}
	return out, nil
}
