// Package fspath implements directory-entry search/insert and path
// resolution with symlink following. See SPEC_FULL.md §4.5.
//
// Grounded on original_source/kernel/fs.c's dirlookup/dirlink/skipelem/
// namex/namei/nameiparent and on the original's sys_link/sys_unlink
// (sysfile.c, out of scope itself, but its directory bookkeeping is the
// grounding for the Link/Unlink operations SPEC_FULL.md's "Supplemented
// features" section adds here).
package fspath

import (
	"encoding/binary"
	"strings"

	"github.com/xv6fs/xv6fs/pkg/fserrors"
	"github.com/xv6fs/xv6fs/pkg/inode"
	"github.com/xv6fs/xv6fs/pkg/superblock"
)

// RootInum is the inode number of the filesystem root, fixed at mkfs time.
const RootInum = 1

// MaxSymlinkDepth bounds how many hops Open will follow before
// declaring a symlink loop (or an overly deep chain) a failure.
const MaxSymlinkDepth = 10

// dirEntSize is the on-disk size of one directory entry: a uint16 inode
// number followed by a fixed DIRSIZ-byte, NUL-padded name.
const dirEntSize = 2 + superblock.DIRSIZ

// Namer resolves paths and manipulates directory entries against a
// shared inode table.
type Namer struct {
	table *inode.Table
}

// New builds a Namer bound to table.
func New(table *inode.Table) *Namer {
	return &Namer{table: table}
}

func encodeDirEnt(buf []byte, inum uint16, name string) {
	binary.LittleEndian.PutUint16(buf[0:2], inum)
	n := copy(buf[2:2+superblock.DIRSIZ], name)
	for i := 2 + n; i < len(buf); i++ {
		buf[i] = 0
	}
}

func decodeDirEnt(buf []byte) (uint16, string) {
	inum := binary.LittleEndian.Uint16(buf[0:2])
	raw := buf[2 : 2+superblock.DIRSIZ]
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return inum, string(raw[:end])
}

// DirLookup implements dirlookup: a linear scan of dir's entries for
// the first non-zero-inum entry whose name matches. Caller must hold
// dir locked. On success the returned inode is obtained via Table.Get
// (unlocked); caller must Put it.
func (n *Namer) DirLookup(dir *inode.Inode, name string) (*inode.Inode, uint32, bool) {
	var buf [dirEntSize]byte
	size := dir.Size()
	for off := uint32(0); off < size; off += dirEntSize {
		read, err := dir.Read(buf[:], off, dirEntSize)
		if err != nil || read < dirEntSize {
			break
		}
		inum, nm := decodeDirEnt(buf[:])
		if inum != 0 && nm == name {
			return n.table.Get(uint32(inum)), off, true
		}
	}
	return nil, 0, false
}

// DirLink implements dirlink: fails if name already exists in dir;
// otherwise writes (inum, name) into the first free slot, extending dir
// by one entry if none is free. Caller must hold dir locked and be
// inside an active transaction.
func (n *Namer) DirLink(dir *inode.Inode, name string, inum uint32) error {
	if len(name) > superblock.DIRSIZ {
		return fserrors.New(fserrors.CodeNameTooLong, "dirlink", name)
	}
	if existing, _, found := n.DirLookup(dir, name); found {
		existing.Put()
		return fserrors.New(fserrors.CodeExists, "dirlink", name)
	}

	var buf [dirEntSize]byte
	size := dir.Size()
	off := size
	for o := uint32(0); o < size; o += dirEntSize {
		read, err := dir.Read(buf[:], o, dirEntSize)
		if err != nil {
			return err
		}
		if read < dirEntSize {
			break
		}
		ino, _ := decodeDirEnt(buf[:])
		if ino == 0 {
			off = o
			break
		}
	}

	encodeDirEnt(buf[:], uint16(inum), name)
	written, err := dir.Write(buf[:], off, dirEntSize)
	if err != nil {
		return err
	}
	if written < dirEntSize {
		return fserrors.New(fserrors.CodeExhausted, "dirlink", name)
	}
	return nil
}

// dirIsEmpty reports whether dir has no entries beyond "." and "..".
// Caller must hold dir locked.
func (n *Namer) dirIsEmpty(dir *inode.Inode) bool {
	var buf [dirEntSize]byte
	size := dir.Size()
	for off := uint32(2 * dirEntSize); off < size; off += dirEntSize {
		read, err := dir.Read(buf[:], off, dirEntSize)
		if err != nil || read < dirEntSize {
			break
		}
		inum, _ := decodeDirEnt(buf[:])
		if inum != 0 {
			return false
		}
	}
	return true
}

// skipelem collapses a leading run of '/', then extracts the next path
// component bounded by DIRSIZ (silently truncating longer components,
// never erroring), returning it plus the unconsumed remainder,
// including any trailing slash.
func skipelem(path string) (elem, rest string) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	path = path[i:]
	if path == "" {
		return "", ""
	}

	j := 0
	for j < len(path) && path[j] != '/' {
		j++
	}
	elem = path[:j]
	if len(elem) > superblock.DIRSIZ {
		elem = elem[:superblock.DIRSIZ]
	}
	return elem, path[j:]
}

// namex resolves path, starting at rootInum if path begins with '/' or
// at cwdInum otherwise. If parent is true, resolution stops one element
// early and returns the parent directory plus the final element's name.
// Locks the current directory only for the duration of each DirLookup
// call: at most one inode sleep-lock is held at a time.
func (n *Namer) namex(path string, parent bool, rootInum, cwdInum uint32) (*inode.Inode, string, error) {
	var ip *inode.Inode
	if strings.HasPrefix(path, "/") {
		ip = n.table.Get(rootInum)
	} else {
		ip = n.table.Get(cwdInum)
	}

	rest := path
	for {
		elem, next := skipelem(rest)
		if elem == "" {
			break
		}

		ip.Lock()
		if ip.Type() != inode.TypeDir {
			ip.Unlock()
			ip.Put()
			return nil, "", fserrors.New(fserrors.CodeNotDirectory, "namex", elem)
		}

		if parent {
			if peek, _ := skipelem(next); peek == "" {
				ip.Unlock()
				return ip, elem, nil
			}
		}

		child, _, found := n.DirLookup(ip, elem)
		ip.Unlock()
		if !found {
			ip.Put()
			return nil, "", fserrors.New(fserrors.CodeNotFound, "namex", elem)
		}
		ip.Put()
		ip = child
		rest = next
	}

	if parent {
		ip.Put()
		return nil, "", fserrors.New(fserrors.CodeInvalidArgument, "namex", path)
	}
	return ip, "", nil
}

// Namei implements namei: resolve path to its inode.
func (n *Namer) Namei(path string, cwdInum uint32) (*inode.Inode, error) {
	ip, _, err := n.namex(path, false, RootInum, cwdInum)
	return ip, err
}

// NameiParent implements nameiparent: resolve path to its parent
// directory, returning the final path element separately.
func (n *Namer) NameiParent(path string, cwdInum uint32) (*inode.Inode, string, error) {
	return n.namex(path, true, RootInum, cwdInum)
}

func trimTrailingZero(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// Open resolves path to its inode, following symlinks (unless noFollow
// is set) up to MaxSymlinkDepth hops. Returns the target inode locked;
// caller must Unlock and eventually Put it.
func (n *Namer) Open(path string, cwdInum uint32, noFollow bool) (*inode.Inode, error) {
	for depth := 0; ; depth++ {
		ip, err := n.Namei(path, cwdInum)
		if err != nil {
			return nil, err
		}

		ip.Lock()
		if ip.Type() != inode.TypeSymlink || noFollow {
			return ip, nil
		}

		if depth >= MaxSymlinkDepth {
			ip.Unlock()
			ip.Put()
			return nil, fserrors.New(fserrors.CodeSymlinkLoop, "open", path)
		}

		var target [superblock.MAXPATH]byte
		read, rerr := ip.Read(target[:], 0, superblock.MAXPATH)
		ip.Unlock()
		ip.Put()
		if rerr != nil {
			return nil, rerr
		}
		path = trimTrailingZero(target[:read])
	}
}

// Create implements the create() helper shared by open(O_CREATE), mkdir,
// mknod, and symlink: resolve the parent directory, fail if name
// already exists (unless typ is a plain file and an existing plain file
// of the same name is present, matching open(O_CREATE) semantics:
// the helper returns the existing inode locked), otherwise allocate a
// fresh inode, wire up "." / ".." for directories, and link it into the
// parent. Must run inside an active transaction. Returns the new (or
// reused) inode locked.
func (n *Namer) Create(path string, typ inode.Type, major, minor int16, cwdInum uint32) (*inode.Inode, error) {
	dir, name, err := n.NameiParent(path, cwdInum)
	if err != nil {
		return nil, err
	}

	dir.Lock()
	if existing, _, found := n.DirLookup(dir, name); found {
		dir.Unlock()
		dir.Put()

		existing.Lock()
		if typ == inode.TypeFile && existing.Type() == inode.TypeFile {
			return existing, nil
		}
		existing.Unlock()
		existing.Put()
		return nil, fserrors.New(fserrors.CodeExists, "create", path)
	}

	ip, err := n.table.Alloc(typ, major, minor)
	if err != nil {
		dir.Unlock()
		dir.Put()
		return nil, err
	}

	ip.Lock()
	ip.SetNlink(1)

	if typ == inode.TypeDir {
		if err := n.DirLink(ip, ".", ip.Inum()); err != nil {
			n.abandonNewInode(ip, dir)
			return nil, err
		}
		if err := n.DirLink(ip, "..", dir.Inum()); err != nil {
			n.abandonNewInode(ip, dir)
			return nil, err
		}
	}
	ip.Update()

	if err := n.DirLink(dir, name, ip.Inum()); err != nil {
		n.abandonNewInode(ip, dir)
		return nil, err
	}

	if typ == inode.TypeDir {
		dir.SetNlink(dir.Nlink() + 1)
		dir.Update()
	}
	dir.Unlock()
	dir.Put()

	return ip, nil
}

// abandonNewInode rolls back a freshly allocated inode that failed to
// link into its parent: clears its link count (so Put frees it) and
// releases both handles. ip must be locked on entry; dir must be locked
// on entry. Both are unlocked and put on return.
func (n *Namer) abandonNewInode(ip, dir *inode.Inode) {
	ip.SetNlink(0)
	ip.Update()
	ip.Unlock()
	ip.Put()
	dir.Unlock()
	dir.Put()
}

// Symlink creates a symlink inode at path whose contents are target,
// stored at offset 0 with no NUL-termination assumed beyond its length.
// Must run inside an active transaction.
func (n *Namer) Symlink(path, target string, cwdInum uint32) (*inode.Inode, error) {
	ip, err := n.Create(path, inode.TypeSymlink, 0, 0, cwdInum)
	if err != nil {
		return nil, err
	}

	var buf [superblock.MAXPATH]byte
	copy(buf[:], target)
	if _, werr := ip.Write(buf[:], 0, superblock.MAXPATH); werr != nil {
		ip.SetNlink(0)
		ip.Update()
		ip.Unlock()
		ip.Put()
		return nil, werr
	}

	return ip, nil
}

// Link implements a hard link: oldPath must name a non-directory
// inode; newPath's parent directory gains an entry for it and its
// on-disk link count is incremented. Must run inside an active
// transaction. Grounded on original_source's sys_link.
func (n *Namer) Link(oldPath, newPath string, cwdInum uint32) error {
	ip, err := n.Namei(oldPath, cwdInum)
	if err != nil {
		return err
	}

	ip.Lock()
	if ip.Type() == inode.TypeDir {
		ip.Unlock()
		ip.Put()
		return fserrors.New(fserrors.CodeIsDirectory, "link", oldPath)
	}
	ip.SetNlink(ip.Nlink() + 1)
	ip.Update()
	ip.Unlock()

	dir, name, err := n.NameiParent(newPath, cwdInum)
	if err != nil {
		n.undoLinkIncrement(ip)
		return err
	}

	dir.Lock()
	linkErr := n.DirLink(dir, name, ip.Inum())
	dir.Unlock()
	dir.Put()

	if linkErr != nil {
		n.undoLinkIncrement(ip)
		return linkErr
	}

	ip.Put()
	return nil
}

func (n *Namer) undoLinkIncrement(ip *inode.Inode) {
	ip.Lock()
	ip.SetNlink(ip.Nlink() - 1)
	ip.Update()
	ip.Unlock()
	ip.Put()
}

// Unlink implements unlink: clears path's directory entry, decrements
// the target's link count, and - if the count drops to zero - Put will
// truncate and free the inode on disk. Refuses to unlink a non-empty
// directory, and refuses "." / "..". Must run inside an active
// transaction. Grounded on original_source's sys_unlink.
func (n *Namer) Unlink(path string, cwdInum uint32) error {
	dir, name, err := n.NameiParent(path, cwdInum)
	if err != nil {
		return err
	}
	if name == "." || name == ".." {
		dir.Put()
		return fserrors.New(fserrors.CodeInvalidArgument, "unlink", path)
	}

	dir.Lock()
	target, off, found := n.DirLookup(dir, name)
	if !found {
		dir.Unlock()
		dir.Put()
		return fserrors.New(fserrors.CodeNotFound, "unlink", path)
	}

	target.Lock()
	if target.Nlink() < 1 {
		fserrors.Fatal("fspath: unlink: target inode has nlink < 1")
	}
	if target.Type() == inode.TypeDir && !n.dirIsEmpty(target) {
		target.Unlock()
		target.Put()
		dir.Unlock()
		dir.Put()
		return fserrors.New(fserrors.CodeNotEmpty, "unlink", path)
	}

	var zero [dirEntSize]byte
	if _, err := dir.Write(zero[:], off, dirEntSize); err != nil {
		target.Unlock()
		target.Put()
		dir.Unlock()
		dir.Put()
		return err
	}

	if target.Type() == inode.TypeDir {
		dir.SetNlink(dir.Nlink() - 1)
		dir.Update()
	}
	dir.Unlock()
	dir.Put()

	target.SetNlink(target.Nlink() - 1)
	target.Update()
	target.Unlock()
	target.Put()

	return nil
}
