//go:build windows

package wgc

import (
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/lizardbyte/sunshine-wgc/internal/comruntime"
	"github.com/lizardbyte/sunshine-wgc/internal/dxgidup"
)

var (
	moduser32hook = windows.NewLazySystemDLL("user32.dll")

	procSetWinEventHook    = moduser32hook.NewProc("SetWinEventHook")
	procUnhookWinEvent     = moduser32hook.NewProc("UnhookWinEvent")
	procGetMessageW        = moduser32hook.NewProc("GetMessageW")
	procTranslateMessage   = moduser32hook.NewProc("TranslateMessage")
	procDispatchMessageW   = moduser32hook.NewProc("DispatchMessageW")
	procPostThreadMessageW = moduser32hook.NewProc("PostThreadMessageW")
)

const (
	eventSystemDesktopSwitch = 0x0020
	winEventOutOfContext     = 0x0000
	wmQuit                   = 0x0012
)

// desktopSwitchSettleDelay is how long to sleep after a desktop-switch
// event before re-querying the current desktop, giving the OS time to
// finish the transition.
const desktopSwitchSettleDelay = 100 * time.Millisecond

// msg mirrors MSG; the pump loop only passes it to the message APIs and
// reads none of its fields itself.
type msg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

// DesktopSwitchHook installs a WinEventHook for EVENT_SYSTEM_DESKTOPSWITCH
// and runs the message pump the hook requires. onSecureDesktop
// is invoked (from a goroutine spawned for each desktop-switch event)
// whenever, after the transition settles, the active desktop is
// Winlogon/SAD or consent.exe is running.
type DesktopSwitchHook struct {
	log      *logrus.Entry
	hook     uintptr
	threadID uint32
	doneCh   chan struct{}
	once     sync.Once
}

// Start installs the hook and begins pumping messages on a dedicated
// goroutine locked to its OS thread (hooks are thread-affine).
func (h *DesktopSwitchHook) Start(onSecureDesktop func()) error {
	h.doneCh = make(chan struct{})
	readyCh := make(chan error, 1)

	go func() {
		defer close(h.doneCh)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		apt, err := comruntime.InitializeSingleThreaded()
		if err != nil {
			readyCh <- err
			return
		}
		defer apt.Close()

		h.threadID = windows.GetCurrentThreadId()

		callback := syscall.NewCallback(func(_ uintptr, event uint32, _ uintptr, _ int32, _ int32, _ uint32, _ uint32) uintptr {
			if event != eventSystemDesktopSwitch {
				return 0
			}
			go func() {
				time.Sleep(desktopSwitchSettleDelay)
				if dxgidup.SecureDesktopActive(h.log) {
					onSecureDesktop()
				}
			}()
			return 0
		})

		hook, _, _ := procSetWinEventHook.Call(
			eventSystemDesktopSwitch, eventSystemDesktopSwitch,
			0, callback, 0, 0, winEventOutOfContext)
		h.hook = hook
		readyCh <- nil

		var m msg
		for {
			ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
			if int32(ret) <= 0 {
				return
			}
			procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
			procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
		}
	}()

	return <-readyCh
}

// Stop unhooks and posts WM_QUIT to unblock the pump's GetMessage call.
func (h *DesktopSwitchHook) Stop() {
	h.once.Do(func() {
		if h.hook != 0 {
			procUnhookWinEvent.Call(h.hook)
		}
		if h.threadID != 0 {
			procPostThreadMessageW.Call(uintptr(h.threadID), wmQuit, 0, 0)
		}
		<-h.doneCh
	})
}
