package userdata

import (
	"fmt"
	"io"
	"os"

	"github.com/permaskills/skills/internal/platform"
)

// Locations lists the paths the doctor verifies.
type Locations struct {
	GlobalRoot string
	LocalRoot  string
	Home       string
	Wallet     string
}

// DefaultLocations returns the standard locations for the given project
// directory.
func DefaultLocations(cwd string) Locations {
	return Locations{
		GlobalRoot: GlobalRoot(),
		LocalRoot:  LocalRoot(cwd),
		Home:       HomeRoot(),
		Wallet:     DefaultWalletPath(),
	}
}

// Check reports the state of each location. When fix is true it creates
// missing directories and tightens wallet permissions. It returns the number
// of problems that remain.
func Check(w io.Writer, loc Locations, fix bool) int {
	fmt.Fprintln(w, "Install roots:")
	problems := 0
	if !checkDirExists(w, loc.GlobalRoot, DirPermNormal, fix) {
		problems++
	}
	// A project without local installs is normal; only report it.
	if _, err := os.Stat(loc.LocalRoot); err != nil {
		fmt.Fprintf(w, "  [ -- ] %s not present (no local installs)\n", loc.LocalRoot)
	} else {
		fmt.Fprintf(w, "  [ OK ] %s exists\n", loc.LocalRoot)
	}

	fmt.Fprintln(w, "Home:")
	if !checkDirExists(w, loc.Home, DirPermSecure, fix) {
		problems++
	}
	if !checkWallet(w, loc.Wallet, fix) {
		problems++
	}
	return problems
}

func checkDirExists(w io.Writer, path string, perm os.FileMode, fix bool) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		fmt.Fprintf(w, "  [MISS] %s does not exist\n", path)
		if fix {
			if mkErr := os.MkdirAll(path, perm); mkErr != nil {
				fmt.Fprintf(w, "  [FAIL] Could not create %s: %v\n", path, mkErr)
				return false
			}
			fmt.Fprintf(w, "  [FIX ] Created %s\n", path)
			return true
		}
		return false
	}
	if err != nil {
		fmt.Fprintf(w, "  [FAIL] %s: %v\n", path, err)
		return false
	}
	if !info.IsDir() {
		fmt.Fprintf(w, "  [WARN] %s exists but is not a directory\n", path)
		return false
	}
	free, err := platform.FreeSpace(path)
	if err == nil {
		fmt.Fprintf(w, "  [ OK ] %s (%s free)\n", path, humanBytes(free))
	} else {
		fmt.Fprintf(w, "  [ OK ] %s\n", path)
	}
	return true
}

func checkWallet(w io.Writer, path string, fix bool) bool {
	perm, loose, err := platform.Loosened(path, FilePermSecure)
	if os.IsNotExist(err) {
		fmt.Fprintf(w, "  [ -- ] %s not present (needed only for publish)\n", path)
		return true
	}
	if err != nil {
		fmt.Fprintf(w, "  [FAIL] %s: %v\n", path, err)
		return false
	}
	if !loose {
		fmt.Fprintf(w, "  [ OK ] %s (permissions %o)\n", path, perm)
		return true
	}
	fmt.Fprintf(w, "  [WARN] %s has permissions %o (expected %o)\n", path, perm, FilePermSecure)
	if !fix {
		return false
	}
	if chErr := platform.Chmod(path, FilePermSecure); chErr != nil {
		fmt.Fprintf(w, "  [FAIL] Could not fix permissions on %s: %v\n", path, chErr)
		return false
	}
	fmt.Fprintf(w, "  [FIX ] Fixed permissions on %s to %o\n", path, FilePermSecure)
	return true
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
