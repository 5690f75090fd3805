package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xv6fs/xv6fs/pkg/blockdev"
	"github.com/xv6fs/xv6fs/pkg/config"
	"github.com/xv6fs/xv6fs/pkg/fspath"
	"github.com/xv6fs/xv6fs/pkg/inode"
	"github.com/xv6fs/xv6fs/pkg/metrics"
	"github.com/xv6fs/xv6fs/pkg/mount"
	"github.com/xv6fs/xv6fs/pkg/superblock"
)

// maxWriteChunk bounds how many bytes the shell's "write" command logs
// in a single transaction: one data block per logged write, minus the
// indirect/doubly-indirect blocks a single bmap call may also log, with
// headroom for the inode update itself. Mirrors the original's
// usertests.c filewrite() chunking so a single shell write of an
// arbitrarily long line never overflows one transaction's log budget.
// Re-derive this if MAXOPBLOCKS or LOGSIZE changes.
const maxWriteChunk = ((superblock.MAXOPBLOCKS - 1 - 1 - 2) / 2) * superblock.BSIZE

var (
	shellPath        string
	shellMetricsFlag bool
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive REPL against a mounted image",
	Long: `shell mounts an image and runs a line-oriented REPL supporting
mkdir, create, write, read, ln, symlink, rm, ls, and stat, exercising
the full core filesystem stack end to end.`,
	RunE: runShell,
}

func init() {
	cfg := config.GetDefaultConfig()
	shellCmd.Flags().StringVar(&shellPath, "path", cfg.Device.Path, "image file to mount")
	shellCmd.Flags().BoolVar(&shellMetricsFlag, "metrics", cfg.Logging.Metrics, "collect Prometheus metrics for this session")
}

func runShell(cmd *cobra.Command, args []string) error {
	dev, err := blockdev.OpenFileDevice(shellPath)
	if err != nil {
		return fmt.Errorf("shell: open image: %w", err)
	}
	defer dev.Close()

	var m mount.Metrics
	if shellMetricsFlag {
		metrics.InitRegistry()
		m = mount.Metrics{
			Cache: metrics.NewCacheMetrics(),
			Log:   metrics.NewLogMetrics(),
			Alloc: metrics.NewAllocMetrics(),
		}
	}

	fs, err := mount.Mount(dev, m)
	if err != nil {
		return fmt.Errorf("shell: mount: %w", err)
	}

	cwd := fspath.RootInum
	sh := &shellSession{fs: fs, cwd: cwd, out: cmd.OutOrStdout()}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(sh.out, "xv6fs> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			sh.dispatch(line)
		}
		fmt.Fprint(sh.out, "xv6fs> ")
	}
	fmt.Fprintln(sh.out)
	return dev.Sync()
}

type shellSession struct {
	fs  *mount.Filesystem
	cwd uint32
	out interface {
		Write([]byte) (int, error)
	}
}

func (s *shellSession) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *shellSession) dispatch(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmdName, rest := fields[0], fields[1:]

	switch cmdName {
	case "mkdir":
		s.mkdir(rest)
	case "create":
		s.create(rest)
	case "write":
		s.write(line, rest)
	case "read":
		s.read(rest)
	case "ln":
		s.link(rest)
	case "symlink":
		s.symlink(rest)
	case "rm":
		s.rm(rest)
	case "ls":
		s.ls(rest)
	case "stat":
		s.stat(rest)
	case "exit", "quit":
		os.Exit(0)
	default:
		s.printf("unknown command: %s\n", cmdName)
	}
}

func (s *shellSession) mkdir(args []string) {
	if len(args) != 1 {
		s.printf("usage: mkdir <path>\n")
		return
	}
	s.fs.Log.BeginOp()
	ip, err := s.fs.Paths.Create(args[0], inode.TypeDir, 0, 0, s.cwd)
	s.fs.Log.EndOp()
	if err != nil {
		s.printf("mkdir: %v\n", err)
		return
	}
	ip.Unlock()
	ip.Put()
}

func (s *shellSession) create(args []string) {
	if len(args) != 1 {
		s.printf("usage: create <path>\n")
		return
	}
	s.fs.Log.BeginOp()
	ip, err := s.fs.Paths.Create(args[0], inode.TypeFile, 0, 0, s.cwd)
	s.fs.Log.EndOp()
	if err != nil {
		s.printf("create: %v\n", err)
		return
	}
	ip.Unlock()
	ip.Put()
}

// write <path> <text...> appends text (joined with spaces) to path,
// chunked to respect maxWriteChunk per transaction.
func (s *shellSession) write(line string, args []string) {
	if len(args) < 2 {
		s.printf("usage: write <path> <text>\n")
		return
	}
	path := args[0]
	prefix := "write " + path + " "
	idx := strings.Index(line, prefix)
	var text string
	if idx >= 0 {
		text = line[idx+len(prefix):]
	} else {
		text = strings.Join(args[1:], " ")
	}
	data := []byte(text)

	s.fs.Log.BeginOp()
	ip, err := s.fs.Paths.Namei(path, s.cwd)
	if err != nil {
		s.fs.Log.EndOp()
		s.printf("write: %v\n", err)
		return
	}
	ip.Lock()
	off := ip.Size()
	s.fs.Log.EndOp()

	var written uint32
	for written < uint32(len(data)) {
		chunk := uint32(len(data)) - written
		if chunk > maxWriteChunk {
			chunk = maxWriteChunk
		}
		s.fs.Log.BeginOp()
		n, werr := ip.Write(data[written:written+chunk], off, chunk)
		s.fs.Log.EndOp()
		if werr != nil {
			s.printf("write: %v\n", werr)
			break
		}
		off += n
		written += n
		if n < chunk {
			break
		}
	}
	ip.Unlock()
	ip.Put()
}

func (s *shellSession) read(args []string) {
	if len(args) != 1 {
		s.printf("usage: read <path>\n")
		return
	}
	s.fs.Log.BeginOp()
	ip, err := s.fs.Paths.Namei(args[0], s.cwd)
	if err != nil {
		s.fs.Log.EndOp()
		s.printf("read: %v\n", err)
		return
	}
	ip.Lock()
	buf := make([]byte, ip.Size())
	n, err := ip.Read(buf, 0, ip.Size())
	ip.Unlock()
	ip.Put()
	s.fs.Log.EndOp()
	if err != nil {
		s.printf("read: %v\n", err)
		return
	}
	s.out.Write(buf[:n])
	fmt.Fprintln(s.out)
}

func (s *shellSession) link(args []string) {
	if len(args) != 2 {
		s.printf("usage: ln <old> <new>\n")
		return
	}
	s.fs.Log.BeginOp()
	err := s.fs.Paths.Link(args[0], args[1], s.cwd)
	s.fs.Log.EndOp()
	if err != nil {
		s.printf("ln: %v\n", err)
	}
}

func (s *shellSession) symlink(args []string) {
	if len(args) != 2 {
		s.printf("usage: symlink <target> <path>\n")
		return
	}
	s.fs.Log.BeginOp()
	ip, err := s.fs.Paths.Symlink(args[1], args[0], s.cwd)
	s.fs.Log.EndOp()
	if err != nil {
		s.printf("symlink: %v\n", err)
		return
	}
	ip.Unlock()
	ip.Put()
}

func (s *shellSession) rm(args []string) {
	if len(args) != 1 {
		s.printf("usage: rm <path>\n")
		return
	}
	s.fs.Log.BeginOp()
	err := s.fs.Paths.Unlink(args[0], s.cwd)
	s.fs.Log.EndOp()
	if err != nil {
		s.printf("rm: %v\n", err)
	}
}

func (s *shellSession) ls(args []string) {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	if path == "." {
		s.lsInode(s.cwd)
		return
	}

	s.fs.Log.BeginOp()
	ip, err := s.fs.Paths.Namei(path, s.cwd)
	s.fs.Log.EndOp()
	if err != nil {
		s.printf("ls: %v\n", err)
		return
	}
	s.lsInode(ip.Inum())
	ip.Put()
}

func (s *shellSession) lsInode(inum uint32) {
	s.fs.Log.BeginOp()
	dir := s.fs.Inodes.Get(inum)
	dir.Lock()
	if dir.Type() != inode.TypeDir {
		dir.Unlock()
		dir.Put()
		s.fs.Log.EndOp()
		s.printf("ls: not a directory\n")
		return
	}

	const dirEntSize = 2 + superblock.DIRSIZ
	var buf [dirEntSize]byte
	size := dir.Size()
	for off := uint32(0); off < size; off += dirEntSize {
		n, err := dir.Read(buf[:], off, dirEntSize)
		if err != nil || n < dirEntSize {
			break
		}
		name := decodeShellDirEntName(buf[:])
		if name != "" {
			s.printf("%s\n", name)
		}
	}
	dir.Unlock()
	dir.Put()
	s.fs.Log.EndOp()
}

func decodeShellDirEntName(buf []byte) string {
	raw := buf[2 : 2+superblock.DIRSIZ]
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	inum := int(buf[0]) | int(buf[1])<<8
	if inum == 0 {
		return ""
	}
	return string(raw[:end])
}

func (s *shellSession) stat(args []string) {
	if len(args) != 1 {
		s.printf("usage: stat <path>\n")
		return
	}
	s.fs.Log.BeginOp()
	ip, err := s.fs.Paths.Open(args[0], s.cwd, true)
	s.fs.Log.EndOp()
	if err != nil {
		s.printf("stat: %v\n", err)
		return
	}

	var st inode.Stat
	ip.Stat(&st)
	ip.Unlock()
	ip.Put()

	s.printf("inum=%d type=%d nlink=%d size=%d major=%d minor=%d\n",
		st.Inum, st.Type, st.Nlink, st.Size, st.Major, st.Minor)
}
