package ffs

import (
	"errors"
	"fmt"
	"path"

	"github.com/dacapoday/flashfs"
)

// Walk visits every inode depth first, a directory before its entries and
// entries in name order. fn receives the slash separated path from the root
// ("/" for the root itself). If fn returns SkipDir for a directory, its
// entries are not visited; SkipDir is ignored for files. Any other error
// stops the walk and is returned.
//
// The lock is held only while an inode is looked up, so fn may call back
// into the filesystem. Inodes removed during the walk are skipped.
func (fs *FS) Walk(fn func(name string, info Info) error) error {
	type item struct {
		id   ID
		name string
	}
	stack := []item{{id: flashfs.RootID, name: "/"}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		info, children, names, found, err := fs.visit(it.id)
		if err != nil {
			return fmt.Errorf("ffs.Walk: %w", err)
		}
		if !found {
			continue
		}
		if err = fn(it.name, info); err != nil {
			if errors.Is(err, SkipDir) {
				continue
			}
			return err
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{id: children[i], name: path.Join(it.name, names[i])})
		}
	}
	return nil
}

func (fs *FS) visit(id ID) (info Info, children []ID, names []string, found bool, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err = fs.ready(); err != nil {
		return
	}
	e, _, found := fs.findInode(id)
	if !found {
		return
	}
	info = e.info()
	children = append(children, e.children...)
	for _, id := range children {
		names = append(names, fs.name(id))
	}
	return
}
