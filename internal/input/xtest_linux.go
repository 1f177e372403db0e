//go:build linux

// Package input injects pointer and keyboard events into the host
// display via the XTEST extension.
package input

/*
#cgo pkg-config: x11 xtst
#include <X11/Xlib.h>
#include <X11/keysym.h>
#include <X11/extensions/XTest.h>
#include <stdlib.h>

static Display* input_display = NULL;

static int input_init(const char *display_name) {
	input_display = XOpenDisplay(display_name);
	if (!input_display) return -1;
	return 0;
}

static void input_mouse_move_abs(int x, int y) {
	if (!input_display) return;
	XTestFakeMotionEvent(input_display, DefaultScreen(input_display), x, y, 0);
	XFlush(input_display);
}

static void input_mouse_button(int button, int press) {
	if (!input_display) return;
	XTestFakeButtonEvent(input_display, button, press, 0);
	XFlush(input_display);
}

static void input_key(unsigned int keysym, int press) {
	if (!input_display) return;
	KeyCode kc = XKeysymToKeycode(input_display, keysym);
	if (kc == 0) return;
	XTestFakeKeyEvent(input_display, kc, press, 0);
	XFlush(input_display);
}

static void input_destroy() {
	if (input_display) {
		XCloseDisplay(input_display);
		input_display = NULL;
	}
}
*/
import "C"
import (
	"fmt"
	"strings"
	"unsafe"

	"deskcast/internal/logging"
	"deskcast/internal/types"
)

type XTestInjector struct{}

// NewInjector opens the named X display for event injection.
func NewInjector(displayName string) (types.InputInjector, error) {
	cDisplay := C.CString(displayName)
	defer C.free(unsafe.Pointer(cDisplay))

	if C.input_init(cDisplay) != 0 {
		return nil, fmt.Errorf("failed to open display for input: %s", displayName)
	}
	return &XTestInjector{}, nil
}

func (inj *XTestInjector) MoveTo(x, y int) {
	C.input_mouse_move_abs(C.int(x), C.int(y))
}

func (inj *XTestInjector) ToggleButton(down bool, button string) {
	press := C.int(0)
	if down {
		press = 1
	}
	C.input_mouse_button(C.int(buttonToX11(button)), press)
}

// KeyTap presses and releases a key, holding the modifier (if any)
// around the tap.
func (inj *XTestInjector) KeyTap(key, modifier string) {
	keysym := keyToKeysym(key)
	if keysym == 0 {
		log := logging.GetLogger("input")
		log.Debug().Str("key", key).Msg("unmapped key")
		return
	}

	var modSym uint
	if modifier != "" {
		modSym = keyToKeysym(modifier)
	}

	if modSym != 0 {
		C.input_key(C.uint(modSym), 1)
	}
	C.input_key(C.uint(keysym), 1)
	C.input_key(C.uint(keysym), 0)
	if modSym != 0 {
		C.input_key(C.uint(modSym), 0)
	}
}

func (inj *XTestInjector) Close() {
	C.input_destroy()
}

func buttonToX11(button string) int {
	switch button {
	case "middle":
		return 2
	case "right":
		return 3
	default:
		return 1 // left
	}
}

func keyToKeysym(key string) uint {
	// Single printable characters map to their own keysym.
	if len(key) == 1 {
		r := rune(key[0])
		if r >= 0x20 && r <= 0x7E {
			return uint(r)
		}
	}
	if ks, ok := keyMap[strings.ToLower(key)]; ok {
		return ks
	}
	return 0
}

// X11 keysym constants
const (
	XK_BackSpace = 0xFF08
	XK_Tab       = 0xFF09
	XK_Return    = 0xFF0D
	XK_Escape    = 0xFF1B
	XK_Delete    = 0xFFFF
	XK_Home      = 0xFF50
	XK_Left      = 0xFF51
	XK_Up        = 0xFF52
	XK_Right     = 0xFF53
	XK_Down      = 0xFF54
	XK_Page_Up   = 0xFF55
	XK_Page_Down = 0xFF56
	XK_End       = 0xFF57
	XK_Insert    = 0xFF63
	XK_Shift_L   = 0xFFE1
	XK_Control_L = 0xFFE3
	XK_Alt_L     = 0xFFE9
	XK_Super_L   = 0xFFEB
	XK_space     = 0x0020
	XK_F1        = 0xFFBE
	XK_F2        = 0xFFBF
	XK_F3        = 0xFFC0
	XK_F4        = 0xFFC1
	XK_F5        = 0xFFC2
	XK_F6        = 0xFFC3
	XK_F7        = 0xFFC4
	XK_F8        = 0xFFC5
	XK_F9        = 0xFFC6
	XK_F10       = 0xFFC7
	XK_F11       = 0xFFC8
	XK_F12       = 0xFFC9
)

var keyMap = map[string]uint{
	"backspace":  XK_BackSpace,
	"tab":        XK_Tab,
	"enter":      XK_Return,
	"return":     XK_Return,
	"escape":     XK_Escape,
	"delete":     XK_Delete,
	"home":       XK_Home,
	"end":        XK_End,
	"pageup":     XK_Page_Up,
	"pagedown":   XK_Page_Down,
	"arrowleft":  XK_Left,
	"arrowup":    XK_Up,
	"arrowright": XK_Right,
	"arrowdown":  XK_Down,
	"insert":     XK_Insert,
	"shift":      XK_Shift_L,
	"control":    XK_Control_L,
	"ctrl":       XK_Control_L,
	"alt":        XK_Alt_L,
	"meta":       XK_Super_L,
	"command":    XK_Super_L,
	"space":      XK_space,
	" ":          XK_space,
	"f1":         XK_F1,
	"f2":         XK_F2,
	"f3":         XK_F3,
	"f4":         XK_F4,
	"f5":         XK_F5,
	"f6":         XK_F6,
	"f7":         XK_F7,
	"f8":         XK_F8,
	"f9":         XK_F9,
	"f10":        XK_F10,
	"f11":        XK_F11,
	"f12":        XK_F12,
}
