// Copyright 2025 Certen Protocol
//
// One-shot migration of the legacy unversioned store layout
// Old nodes kept blockstate.dat and treestate/ without era suffixes or a
// version tag. The migration renames both in place; the tag is stamped the
// first time the renamed environment is opened.

package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// MigrateLegacyLayout renames a legacy layout to the era-0 names. It is a
// no-op when there is nothing legacy to migrate, and refuses to clobber an
// existing era-0 layout.
func MigrateLegacyLayout(rootDir string) error {
	legacySeg := filepath.Join(rootDir, "blockstate.dat")
	legacyTree := filepath.Join(rootDir, "treestate")
	newSeg := filepath.Join(rootDir, "blockstate-0.dat")
	newTree := filepath.Join(rootDir, "treestate-0")

	segExists := fileExists(legacySeg)
	treeExists := dirExists(legacyTree)
	if !segExists && !treeExists {
		return nil
	}
	if fileExists(newSeg) || dirExists(newTree) {
		return fmt.Errorf("both legacy and versioned store layouts present under %s", rootDir)
	}
	if segExists {
		if err := os.Rename(legacySeg, newSeg); err != nil {
			return fmt.Errorf("migrate block-state segment: %w", err)
		}
	}
	if treeExists {
		if err := os.Rename(legacyTree, newTree); err != nil {
			return fmt.Errorf("migrate tree-state directory: %w", err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
