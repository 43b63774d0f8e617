package moduli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"

	"sshgate/internal/log"
)

// DefaultPath is where OpenSSH keeps its moduli file.
const DefaultPath = "/etc/ssh/moduli"

// FileSource reads groups from an OpenSSH moduli file.
type FileSource struct {
	Path   string
	Logger *slog.Logger
}

// LoadPrimes parses the moduli file. A missing file yields an empty table.
func (s FileSource) LoadPrimes() (Table, error) {
	logger := log.OrDefault(s.Logger)

	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("moduli file not found", "path", s.Path)
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	t, skipped, err := ParseTable(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	if skipped > 0 {
		logger.Warn("skipped malformed moduli lines", "path", s.Path, "count", skipped)
	}
	return t, nil
}

// ParseTable parses moduli lines of the form
//
//	time type tests tries size generator modulus
//
// where size is one less than the bit length, generator is decimal and
// modulus is hexadecimal. Blank lines and comments are ignored; malformed
// lines are skipped and counted.
func ParseTable(r io.Reader) (Table, int, error) {
	var (
		t       Table
		index   = map[int]int{}
		skipped int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		bits, g, ok := parseLine(line)
		if !ok {
			skipped++
			continue
		}
		if i, seen := index[bits]; seen {
			t[i].Groups = append(t[i].Groups, g)
			continue
		}
		index[bits] = len(t)
		t = append(t, Entry{Bits: bits, Groups: []Group{g}})
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, err
	}
	return t, skipped, nil
}

func parseLine(line string) (int, Group, bool) {
	fields := strings.Fields(line)
	if len(fields) != 7 {
		return 0, Group{}, false
	}
	size, err := strconv.Atoi(fields[4])
	if err != nil || size < 0 {
		return 0, Group{}, false
	}
	gen, ok := new(big.Int).SetString(fields[5], 10)
	if !ok || gen.Sign() <= 0 {
		return 0, Group{}, false
	}
	prime, ok := new(big.Int).SetString(fields[6], 16)
	if !ok || prime.Sign() <= 0 {
		return 0, Group{}, false
	}
	return size + 1, Group{Generator: gen, Prime: prime}, true
}
