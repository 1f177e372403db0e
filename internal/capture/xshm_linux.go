//go:build linux

// Package capture provides the OS frame source.
package capture

/*
#cgo pkg-config: x11 xext xfixes
#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <X11/extensions/XShm.h>
#include <X11/extensions/Xfixes.h>
#include <sys/ipc.h>
#include <sys/shm.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	Display *display;
	Window root;
	XShmSegmentInfo shminfo;
	XImage *image;
	int width;
	int height;
} XShmCapturer;

static XShmCapturer* xshm_init(const char *display_name) {
	XShmCapturer *c = (XShmCapturer*)calloc(1, sizeof(XShmCapturer));
	if (!c) return NULL;

	c->display = XOpenDisplay(display_name);
	if (!c->display) { free(c); return NULL; }

	int screen = DefaultScreen(c->display);
	c->root = RootWindow(c->display, screen);
	c->width = DisplayWidth(c->display, screen);
	c->height = DisplayHeight(c->display, screen);

	c->image = XShmCreateImage(c->display,
		DefaultVisual(c->display, screen),
		DefaultDepth(c->display, screen),
		ZPixmap, NULL, &c->shminfo,
		c->width, c->height);
	if (!c->image) {
		XCloseDisplay(c->display);
		free(c);
		return NULL;
	}

	c->shminfo.shmid = shmget(IPC_PRIVATE,
		c->image->bytes_per_line * c->image->height,
		IPC_CREAT | 0600);
	if (c->shminfo.shmid < 0) {
		XDestroyImage(c->image);
		XCloseDisplay(c->display);
		free(c);
		return NULL;
	}

	c->shminfo.shmaddr = c->image->data = (char*)shmat(c->shminfo.shmid, NULL, 0);
	c->shminfo.readOnly = False;

	if (!XShmAttach(c->display, &c->shminfo)) {
		shmdt(c->shminfo.shmaddr);
		shmctl(c->shminfo.shmid, IPC_RMID, NULL);
		XDestroyImage(c->image);
		XCloseDisplay(c->display);
		free(c);
		return NULL;
	}

	// Mark for removal so it's cleaned up when we detach
	shmctl(c->shminfo.shmid, IPC_RMID, NULL);

	return c;
}

static int xshm_grab(XShmCapturer *c) {
	if (!XShmGetImage(c->display, c->root, c->image, 0, 0, AllPlanes)) {
		return -1;
	}
	XSync(c->display, False);
	return 0;
}

static void xshm_composite_cursor(XShmCapturer *c) {
	XFixesCursorImage *cursor = XFixesGetCursorImage(c->display);
	if (!cursor) return;

	int cx = cursor->x - cursor->xhot;
	int cy = cursor->y - cursor->yhot;

	for (int y = 0; y < (int)cursor->height; y++) {
		int dy = cy + y;
		if (dy < 0 || dy >= c->height) continue;
		for (int x = 0; x < (int)cursor->width; x++) {
			int dx = cx + x;
			if (dx < 0 || dx >= c->width) continue;

			unsigned long pixel = cursor->pixels[y * cursor->width + x];
			unsigned char a = (pixel >> 24) & 0xFF;
			if (a == 0) continue;

			unsigned char cr = (pixel >> 0) & 0xFF;
			unsigned char cg = (pixel >> 8) & 0xFF;
			unsigned char cb = (pixel >> 16) & 0xFF;

			int offset = dy * c->image->bytes_per_line + dx * 4;
			unsigned char *dst = (unsigned char*)c->image->data + offset;

			if (a == 255) {
				dst[0] = cb;
				dst[1] = cg;
				dst[2] = cr;
			} else {
				dst[0] = (cb * a + dst[0] * (255 - a)) / 255;
				dst[1] = (cg * a + dst[1] * (255 - a)) / 255;
				dst[2] = (cr * a + dst[2] * (255 - a)) / 255;
			}
		}
	}
	XFree(cursor);
}

static void xshm_destroy(XShmCapturer *c) {
	if (!c) return;
	XShmDetach(c->display, &c->shminfo);
	shmdt(c->shminfo.shmaddr);
	XDestroyImage(c->image);
	XCloseDisplay(c->display);
	free(c);
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"deskcast/internal/logging"
	"deskcast/internal/types"
)

// XshmSource captures the root window via X11 shared memory and hands
// out an owned copy of the BGRA pixels, with the cursor composited in.
type XshmSource struct {
	c *C.XShmCapturer
}

// NewSource opens the named X display for capture.
func NewSource(displayName string) (types.FrameSource, error) {
	cDisplay := C.CString(displayName)
	defer C.free(unsafe.Pointer(cDisplay))

	xshm := C.xshm_init(cDisplay)
	if xshm == nil {
		return nil, fmt.Errorf("failed to initialize XShm capture on %s", displayName)
	}
	logger := logging.GetLogger("capture")
	logger.Info().Int("width", int(xshm.width)).Int("height", int(xshm.height)).Msg("XShm capture ready")
	return &XshmSource{c: xshm}, nil
}

func (s *XshmSource) Width() int  { return int(s.c.width) }
func (s *XshmSource) Height() int { return int(s.c.height) }

// Capture grabs the current screen contents. The returned frame owns its
// pixel buffer: the pipeline hashes and coalesces frames after this call
// returns, so the SHM segment cannot be shared.
func (s *XshmSource) Capture() (*types.Frame, error) {
	if C.xshm_grab(s.c) != 0 {
		return nil, fmt.Errorf("XShmGetImage failed")
	}
	C.xshm_composite_cursor(s.c)

	stride := int(s.c.image.bytes_per_line)
	size := stride * int(s.c.height)
	data := C.GoBytes(unsafe.Pointer(s.c.image.data), C.int(size))

	return &types.Frame{
		Data:   data,
		Width:  int(s.c.width),
		Height: int(s.c.height),
		Stride: stride,
		PixFmt: types.PixFmtBGRA,
	}, nil
}

func (s *XshmSource) Close() {
	C.xshm_destroy(s.c)
}
