// Command libwisktrack builds the LD_PRELOAD shared library traced
// processes load. It is the cgo half of the interposer: a thin,
// mechanical C-ABI shim (spec.md §9's "table of wrapper function
// pointers") around the pure-Go logic in internal/interpose. Build with:
//
//	go build -buildmode=c-shared -o libwisktrack.so ./cmd/libwisktrack
//
// Every wrapped libc entry point resolves its "real" implementation once,
// lazily, via dlsym(RTLD_NEXT, ...) and never calls back into another
// wrapped symbol from within a wrapper, per spec.md §4.1's safety
// constraint. The variadic exec*l* entry points (execl, execlp, execle)
// can't be expressed as cgo //export functions -- cgo has no way to
// export a C-variadic signature -- so they're defined here as plain C
// functions that collect their varargs into a char** and hand off to the
// fixed-arity Go helpers below.
//
//go:build linux

package main

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
#include <stdarg.h>
#include <string.h>
#include <unistd.h>
#include <fcntl.h>
#include <stdio.h>
#include <sys/stat.h>
#include <spawn.h>

typedef int (*open_fn)(const char *, int, ...);
typedef int (*openat_fn)(int, const char *, int, ...);
typedef int (*creat_fn)(const char *, mode_t);
typedef FILE *(*fopen_fn)(const char *, const char *);
typedef FILE *(*freopen_fn)(const char *, const char *, FILE *);
typedef int (*unlink_fn)(const char *);
typedef int (*unlinkat_fn)(int, const char *, int);
typedef int (*rename_fn)(const char *, const char *);
typedef int (*renameat_fn)(int, const char *, int, const char *);
typedef int (*link_fn)(const char *, const char *);
typedef int (*linkat_fn)(int, const char *, int, const char *, int);
typedef int (*symlink_fn)(const char *, const char *);
typedef int (*symlinkat_fn)(const char *, int, const char *);
typedef int (*chmod_fn)(const char *, mode_t);
typedef int (*fchmodat_fn)(int, const char *, mode_t, int);
typedef int (*execve_fn)(const char *, char *const[], char *const[]);
typedef int (*system_fn)(const char *);
typedef int (*posix_spawn_fn)(pid_t *, const char *, const posix_spawn_file_actions_t *, const posix_spawnattr_t *, char *const[], char *const[]);

static open_fn real_open;
static openat_fn real_openat;
static creat_fn real_creat;
static fopen_fn real_fopen;
static freopen_fn real_freopen;
static unlink_fn real_unlink;
static unlinkat_fn real_unlinkat;
static rename_fn real_rename;
static renameat_fn real_renameat;
static link_fn real_link;
static linkat_fn real_linkat;
static symlink_fn real_symlink;
static symlinkat_fn real_symlinkat;
static chmod_fn real_chmod;
static fchmodat_fn real_fchmodat;
static execve_fn real_execve;
static system_fn real_system;
static posix_spawn_fn real_posix_spawn;
static posix_spawn_fn real_posix_spawnp;

// resolve_next looks up the original libc symbol exactly once; repeat
// calls are cheap pointer reads thereafter. Never resolved reflectively or
// cached across library reloads -- one process, one resolution.
static void resolve_next(void) {
	if (!real_open)         real_open         = (open_fn)dlsym(RTLD_NEXT, "open");
	if (!real_openat)       real_openat       = (openat_fn)dlsym(RTLD_NEXT, "openat");
	if (!real_creat)        real_creat        = (creat_fn)dlsym(RTLD_NEXT, "creat");
	if (!real_fopen)        real_fopen        = (fopen_fn)dlsym(RTLD_NEXT, "fopen");
	if (!real_freopen)      real_freopen      = (freopen_fn)dlsym(RTLD_NEXT, "freopen");
	if (!real_unlink)       real_unlink       = (unlink_fn)dlsym(RTLD_NEXT, "unlink");
	if (!real_unlinkat)     real_unlinkat     = (unlinkat_fn)dlsym(RTLD_NEXT, "unlinkat");
	if (!real_rename)       real_rename       = (rename_fn)dlsym(RTLD_NEXT, "rename");
	if (!real_renameat)     real_renameat     = (renameat_fn)dlsym(RTLD_NEXT, "renameat");
	if (!real_link)         real_link         = (link_fn)dlsym(RTLD_NEXT, "link");
	if (!real_linkat)       real_linkat       = (linkat_fn)dlsym(RTLD_NEXT, "linkat");
	if (!real_symlink)      real_symlink      = (symlink_fn)dlsym(RTLD_NEXT, "symlink");
	if (!real_symlinkat)    real_symlinkat    = (symlinkat_fn)dlsym(RTLD_NEXT, "symlinkat");
	if (!real_chmod)        real_chmod        = (chmod_fn)dlsym(RTLD_NEXT, "chmod");
	if (!real_fchmodat)     real_fchmodat     = (fchmodat_fn)dlsym(RTLD_NEXT, "fchmodat");
	if (!real_execve)       real_execve       = (execve_fn)dlsym(RTLD_NEXT, "execve");
	if (!real_system)       real_system       = (system_fn)dlsym(RTLD_NEXT, "system");
	if (!real_posix_spawn)  real_posix_spawn  = (posix_spawn_fn)dlsym(RTLD_NEXT, "posix_spawn");
	if (!real_posix_spawnp) real_posix_spawnp = (posix_spawn_fn)dlsym(RTLD_NEXT, "posix_spawnp");
}

static int call_real_open(const char *path, int flags, mode_t mode) {
	return real_open(path, flags, mode);
}
static int call_real_openat(int dirfd, const char *path, int flags, mode_t mode) {
	return real_openat(dirfd, path, flags, mode);
}
static int call_real_creat(const char *path, mode_t mode) { return real_creat(path, mode); }
static FILE *call_real_fopen(const char *path, const char *mode) { return real_fopen(path, mode); }
static FILE *call_real_freopen(const char *path, const char *mode, FILE *stream) {
	return real_freopen(path, mode, stream);
}
static int call_real_unlink(const char *path) { return real_unlink(path); }
static int call_real_unlinkat(int dirfd, const char *path, int flags) { return real_unlinkat(dirfd, path, flags); }
static int call_real_rename(const char *old, const char *new_) { return real_rename(old, new_); }
static int call_real_renameat(int oldfd, const char *old, int newfd, const char *new_) {
	return real_renameat(oldfd, old, newfd, new_);
}
static int call_real_link(const char *old, const char *new_) { return real_link(old, new_); }
static int call_real_linkat(int oldfd, const char *old, int newfd, const char *new_, int flags) {
	return real_linkat(oldfd, old, newfd, new_, flags);
}
static int call_real_symlink(const char *target, const char *linkpath) { return real_symlink(target, linkpath); }
static int call_real_symlinkat(const char *target, int newdirfd, const char *linkpath) {
	return real_symlinkat(target, newdirfd, linkpath);
}
static int call_real_chmod(const char *path, mode_t mode) { return real_chmod(path, mode); }
static int call_real_fchmodat(int dirfd, const char *path, mode_t mode, int flags) {
	return real_fchmodat(dirfd, path, mode, flags);
}
static int call_real_execve(const char *path, char *const argv[], char *const envp[]) {
	return real_execve(path, argv, envp);
}
static int call_real_system(const char *cmd) { return real_system(cmd); }
static int call_real_posix_spawn(pid_t *pid, const char *path, const posix_spawn_file_actions_t *fa,
                                  const posix_spawnattr_t *attr, char *const argv[], char *const envp[]) {
	return real_posix_spawn(pid, path, fa, attr, argv, envp);
}
static int call_real_posix_spawnp(pid_t *pid, const char *file, const posix_spawn_file_actions_t *fa,
                                   const posix_spawnattr_t *attr, char *const argv[], char *const envp[]) {
	return real_posix_spawnp(pid, file, fa, attr, argv, envp);
}

// system() forks a child that inherits the process-wide `environ` as-is;
// swapping it for the duration of the real_system() call is the only way
// to hand the forked shell a rewritten WISK_TRACKER_UUID without a second,
// separate exec wrapper.
extern char **environ;
static char **wisktrack_swap_environ(char **newenv) {
	char **old = environ;
	environ = newenv;
	return old;
}
static void wisktrack_restore_environ(char **old) {
	environ = old;
}

// wisktrack_complete_fd/wisktrack_complete_line are populated by Go once
// at init and read back by the destructor below; the destructor must stay
// async-signal-safe, so it performs a single raw write(2) with a
// preformatted buffer rather than calling back into Go or libc stdio
// (spec.md §9 "Signal safety").
static int wisktrack_complete_fd = -1;
static char wisktrack_complete_line[256];
static int wisktrack_complete_len = 0;

__attribute__((destructor))
static void wisktrack_on_exit(void) {
	if (wisktrack_complete_fd >= 0 && wisktrack_complete_len > 0) {
		write(wisktrack_complete_fd, wisktrack_complete_line, wisktrack_complete_len);
	}
}

// The exec*() wrappers below hand off to the fixed-arity Go exports
// wisktrack_exec/wisktrack_execp, which do the actual event emission and
// environment rewrite; these C shims exist purely to turn libc's varargs
// calling convention into a char*const[] one Go can receive.
extern int wisktrack_exec(const char *path, char *const argv[], char *const envp[]);
extern int wisktrack_execp(const char *file, char *const argv[], char *const envp[]);

#define WISKTRACK_MAX_EXEC_ARGS 4096

int execv(const char *path, char *const argv[]) {
	return wisktrack_exec(path, argv, NULL);
}

int execvp(const char *file, char *const argv[]) {
	return wisktrack_execp(file, argv, NULL);
}

int execvpe(const char *file, char *const argv[], char *const envp[]) {
	return wisktrack_execp(file, argv, envp);
}

static int wisktrack_collect_argv(va_list ap, const char *arg0, void *argv[], int max) {
	int i = 0;
	argv[i++] = (void *)arg0;
	const char *a;
	while (i < max-1 && (a = va_arg(ap, const char *)) != NULL) {
		argv[i++] = (void *)a;
	}
	argv[i] = NULL;
	return i;
}

int execl(const char *path, const char *arg0, ...) {
	void *argv[WISKTRACK_MAX_EXEC_ARGS];
	va_list ap;
	va_start(ap, arg0);
	wisktrack_collect_argv(ap, arg0, argv, WISKTRACK_MAX_EXEC_ARGS);
	va_end(ap);
	return wisktrack_exec(path, (char *const *)argv, NULL);
}

int execlp(const char *file, const char *arg0, ...) {
	void *argv[WISKTRACK_MAX_EXEC_ARGS];
	va_list ap;
	va_start(ap, arg0);
	wisktrack_collect_argv(ap, arg0, argv, WISKTRACK_MAX_EXEC_ARGS);
	va_end(ap);
	return wisktrack_execp(file, (char *const *)argv, NULL);
}

// execle's final vararg, immediately after the NULL that terminates argv,
// is the envp array -- glibc documents this layout explicitly.
int execle(const char *path, const char *arg0, ...) {
	void *argv[WISKTRACK_MAX_EXEC_ARGS];
	va_list ap;
	va_start(ap, arg0);
	wisktrack_collect_argv(ap, arg0, argv, WISKTRACK_MAX_EXEC_ARGS);
	char *const *envp = va_arg(ap, char *const *);
	va_end(ap);
	return wisktrack_exec(path, (char *const *)argv, envp);
}
*/
import "C"

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"github.com/sarvi/wisk/internal/event"
	"github.com/sarvi/wisk/internal/interpose"
)

// state is process-global: one traced process, one interposer identity.
// Go's cgo export surface has no per-call context to thread this through,
// so, like the teacher's singleton log.Logger obtained via a package-level
// accessor, every wrapper reaches it through this variable.
var state *interpose.State

// completeFile keeps the *os.File behind wisktrack_complete_fd referenced
// for the life of the process, so its finalizer never closes that fd.
var completeFile *os.File

func init() {
	C.resolve_next()
	state = interpose.FromEnviron(os.Environ())
	if state.PassThrough() {
		return
	}

	wd, _ := os.Getwd()
	state.EmitCommand(os.Args)
	if len(os.Args) > 0 {
		state.EmitCommandPath(os.Args[0])
	}
	state.EmitWorkingDirectory(wd)
	state.EmitPID(os.Getpid())
	state.EmitPPID(os.Getppid())
	state.EmitEnvironment(os.Environ())

	registerCompleteLine(state.UUID())
}

// registerCompleteLine preformats the COMPLETE wire line and caches the
// pipe's file descriptor in C globals so the destructor above can emit it
// with a single async-signal-safe write(2), never touching the Go runtime
// or libc stdio from within the exit path.
func registerCompleteLine(uuid string) {
	if uuid == `` {
		return
	}
	line, err := event.Encode(uuid, event.OpComplete, true)
	if err != nil {
		return
	}
	line += "\n"
	if len(line) >= 256 {
		return // caller loses COMPLETE rather than overflow the static buffer
	}
	pipePath := os.Getenv("WISK_TRACKER_PIPE")
	f, err := os.OpenFile(pipePath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return
	}
	completeFile = f
	C.wisktrack_complete_fd = C.int(f.Fd())
	cline := C.CString(line)
	defer C.free(unsafe.Pointer(cline))
	C.memcpy(unsafe.Pointer(&C.wisktrack_complete_line[0]), unsafe.Pointer(cline), C.size_t(len(line)))
	C.wisktrack_complete_len = C.int(len(line))
}

//export open
func open(path *C.char, flags C.int, mode C.uint) C.int {
	goPath := C.GoString(path)
	if interpose.ClassifyOpenFlags(int(flags)) {
		state.EmitWrites(goPath)
	} else {
		state.EmitReads(goPath)
	}
	return C.call_real_open(path, flags, C.mode_t(mode))
}

//export openat
func openat(dirfd C.int, path *C.char, flags C.int, mode C.uint) C.int {
	goPath := C.GoString(path)
	if interpose.ClassifyOpenFlags(int(flags)) {
		state.EmitWrites(goPath)
	} else {
		state.EmitReads(goPath)
	}
	return C.call_real_openat(dirfd, path, flags, C.mode_t(mode))
}

//export creat
func creat(path *C.char, mode C.uint) C.int {
	state.EmitWrites(C.GoString(path))
	return C.call_real_creat(path, C.mode_t(mode))
}

//export fopen
func fopen(path, mode *C.char) *C.FILE {
	goPath := C.GoString(path)
	if interpose.ClassifyFopenMode(C.GoString(mode)) {
		state.EmitWrites(goPath)
	} else {
		state.EmitReads(goPath)
	}
	return C.call_real_fopen(path, mode)
}

//export freopen
func freopen(path, mode *C.char, stream *C.FILE) *C.FILE {
	if path != nil {
		goPath := C.GoString(path)
		if interpose.ClassifyFopenMode(C.GoString(mode)) {
			state.EmitWrites(goPath)
		} else {
			state.EmitReads(goPath)
		}
	}
	return C.call_real_freopen(path, mode, stream)
}

//export unlink
func unlink(path *C.char) C.int {
	state.EmitUnlink(C.GoString(path))
	return C.call_real_unlink(path)
}

//export unlinkat
func unlinkat(dirfd C.int, path *C.char, flags C.int) C.int {
	state.EmitUnlink(C.GoString(path))
	return C.call_real_unlinkat(dirfd, path, flags)
}

//export remove
func remove(path *C.char) C.int {
	state.EmitUnlink(C.GoString(path))
	return C.call_real_unlink(path)
}

//export rename
func rename(oldpath, newpath *C.char) C.int {
	state.EmitLinks(C.GoString(oldpath), C.GoString(newpath))
	return C.call_real_rename(oldpath, newpath)
}

//export renameat
func renameat(oldfd C.int, oldpath *C.char, newfd C.int, newpath *C.char) C.int {
	state.EmitLinks(C.GoString(oldpath), C.GoString(newpath))
	return C.call_real_renameat(oldfd, oldpath, newfd, newpath)
}

//export link
func link(oldpath, newpath *C.char) C.int {
	state.EmitLinks(C.GoString(oldpath), C.GoString(newpath))
	return C.call_real_link(oldpath, newpath)
}

//export linkat
func linkat(oldfd C.int, oldpath *C.char, newfd C.int, newpath *C.char, flags C.int) C.int {
	state.EmitLinks(C.GoString(oldpath), C.GoString(newpath))
	return C.call_real_linkat(oldfd, oldpath, newfd, newpath, flags)
}

//export symlink
func symlink(target, linkpath *C.char) C.int {
	state.EmitLinks(C.GoString(target), C.GoString(linkpath))
	return C.call_real_symlink(target, linkpath)
}

//export symlinkat
func symlinkat(target *C.char, newdirfd C.int, linkpath *C.char) C.int {
	state.EmitLinks(C.GoString(target), C.GoString(linkpath))
	return C.call_real_symlinkat(target, newdirfd, linkpath)
}

//export chmod
func chmod(path *C.char, mode C.uint) C.int {
	state.EmitChmod(C.GoString(path))
	return C.call_real_chmod(path, C.mode_t(mode))
}

//export fchmodat
func fchmodat(dirfd C.int, path *C.char, mode C.uint, flags C.int) C.int {
	state.EmitChmod(C.GoString(path))
	return C.call_real_fchmodat(dirfd, path, C.mode_t(mode), flags)
}

//export execve
func execve(path *C.char, argv, envp **C.char) C.int {
	newEnvp := prepareChildExecEnv(envp)
	defer freeCStringArray(newEnvp)
	return C.call_real_execve(path, argv, newEnvp)
}

// wisktrack_exec and wisktrack_execp back the execv/execl/execle family
// defined in the C preamble above (spec.md §4.1's "Spawn protocol",
// applied uniformly regardless of which libc entry point the target used
// to reach it).
//
//export wisktrack_exec
func wisktrack_exec(path *C.char, argv, envp **C.char) C.int {
	newEnvp := prepareChildExecEnv(envp)
	defer freeCStringArray(newEnvp)
	return C.call_real_execve(path, argv, newEnvp)
}

//export wisktrack_execp
func wisktrack_execp(file *C.char, argv, envp **C.char) C.int {
	resolved := lookupPath(C.GoString(file))
	cpath := C.CString(resolved)
	defer C.free(unsafe.Pointer(cpath))
	newEnvp := prepareChildExecEnv(envp)
	defer freeCStringArray(newEnvp)
	return C.call_real_execve(cpath, argv, newEnvp)
}

//export system
func system(cmd *C.char) C.int {
	childUUID, err := state.EmitCalls()
	if err != nil || childUUID == `` {
		return C.call_real_system(cmd)
	}
	newEnvp := toCStringArray(interpose.ChildEnviron(os.Environ(), childUUID))
	old := C.wisktrack_swap_environ(newEnvp)
	rc := C.call_real_system(cmd)
	C.wisktrack_restore_environ(old)
	freeCStringArray(newEnvp)
	return rc
}

//export posix_spawn
func posix_spawn(pid *C.pid_t, path *C.char, fa *C.posix_spawn_file_actions_t, attr *C.posix_spawnattr_t, argv, envp **C.char) C.int {
	newEnvp := prepareChildExecEnv(envp)
	defer freeCStringArray(newEnvp)
	return C.call_real_posix_spawn(pid, path, fa, attr, argv, newEnvp)
}

//export posix_spawnp
func posix_spawnp(pid *C.pid_t, file *C.char, fa *C.posix_spawn_file_actions_t, attr *C.posix_spawnattr_t, argv, envp **C.char) C.int {
	newEnvp := prepareChildExecEnv(envp)
	defer freeCStringArray(newEnvp)
	return C.call_real_posix_spawnp(pid, file, fa, attr, argv, newEnvp)
}

// prepareChildExecEnv emits CALLS for a fresh child UUID and returns a
// replacement envp with WISK_TRACKER_UUID substituted, matching spec.md
// §4.1 "Spawn protocol" steps 1-3. base is the caller-supplied envp if one
// was given (execve/execle/execvpe/posix_spawn*), else the process's own
// current environment (execv/execvp/execl/execlp; system builds its own
// child environment the same way without calling this). The caller owns
// the returned array and must free it with freeCStringArray once the real
// call returns (which only happens if the exec itself failed).
func prepareChildExecEnv(envp **C.char) **C.char {
	childUUID, err := state.EmitCalls()
	if err != nil || childUUID == `` {
		return nil
	}
	base := os.Environ()
	if envp != nil {
		base = fromCStringArray(envp)
	}
	return toCStringArray(interpose.ChildEnviron(base, childUUID))
}

// lookupPath resolves a bare command name against $PATH the way execvp
// does, checking each candidate with access(X_OK); a name containing '/'
// is returned unchanged and left for real_execve to resolve or reject.
func lookupPath(file string) string {
	if strings.Contains(file, "/") {
		return file
	}
	pathEnv := os.Getenv("PATH")
	for _, dir := range strings.Split(pathEnv, ":") {
		if dir == `` {
			dir = "."
		}
		cand := dir + "/" + file
		if syscall.Access(cand, 0x1) == nil { // X_OK
			return cand
		}
	}
	return file
}

func fromCStringArray(arr **C.char) []string {
	if arr == nil {
		return nil
	}
	cArr := (*[1 << 20]*C.char)(unsafe.Pointer(arr))
	var out []string
	for i := 0; cArr[i] != nil; i++ {
		out = append(out, C.GoString(cArr[i]))
	}
	return out
}

func toCStringArray(ss []string) **C.char {
	arr := C.malloc(C.size_t(len(ss)+1) * C.size_t(unsafe.Sizeof(uintptr(0))))
	cArr := (*[1 << 20]*C.char)(arr)
	for i, s := range ss {
		cArr[i] = C.CString(s)
	}
	cArr[len(ss)] = nil
	return (**C.char)(arr)
}

func freeCStringArray(arr **C.char) {
	if arr == nil {
		return
	}
	cArr := (*[1 << 20]*C.char)(unsafe.Pointer(arr))
	for i := 0; cArr[i] != nil; i++ {
		C.free(unsafe.Pointer(cArr[i]))
	}
	C.free(unsafe.Pointer(arr))
}

func main() {
	// Required by -buildmode=c-shared; never runs, since this object is
	// loaded as a library, not executed.
	fmt.Fprintln(os.Stderr, strconv.Itoa(os.Getpid())+": libwisktrack is a shared library, not a program")
}
