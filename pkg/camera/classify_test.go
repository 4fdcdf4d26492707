package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

func TestClassifyDetect(t *testing.T) {
	assert.ErrorIs(t, ClassifyDetect("", "*** Error: No camera found. ***"), faults.ErrNoDevices)
	assert.ErrorIs(t, ClassifyDetect("no camera detected", ""), faults.ErrNoDevices)
	assert.NoError(t, ClassifyDetect("Model Port\n---\nCanon EOS 700D usb:001,005\n", ""))
}

func TestClassifyCapture(t *testing.T) {
	tests := []struct {
		output string
		want   error
	}{
		{"*** Error (-110: 'I/O in progress') ***\nCamera is busy", faults.ErrDeviceBusy},
		{"Could not claim the USB device: device locked", faults.ErrDeviceBusy},
		{"*** Error: No camera found. ***", faults.ErrDeviceGone},
		{"*** Error (-1: 'Unspecified error') ***", faults.ErrCaptureFailed},
		{"", faults.ErrCaptureFailed},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, ClassifyCapture(tt.output), tt.want, tt.output)
	}
}

func TestSavedFilename(t *testing.T) {
	out := "New file is in location /store_00020001/DCIM/100CANON/IMG_0001.JPG on the camera\n" +
		"Saving file as capt0000.jpg\n" +
		"Deleting file /store_00020001/DCIM/100CANON/IMG_0001.JPG on the camera\n"
	assert.Equal(t, "capt0000.jpg", savedFilename(out))

	rawAndJPEG := "Saving file as capt0000.jpg\r\nSaving file as capt0001.cr2\r\n"
	assert.Equal(t, "capt0000.jpg", savedFilename(rawAndJPEG))

	assert.Equal(t, "capt0001.cr2", savedFilename("Saving file as capt0001.cr2\n"))
	assert.Empty(t, savedFilename("*** Error: No camera found. ***"))
}
