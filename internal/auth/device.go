package auth

import (
	"strings"

	"github.com/mileusna/useragent"
)

// ClassifyDevice maps a user agent string to a device class.
func ClassifyDevice(userAgent string) Device {
	if strings.Contains(strings.ToLower(userAgent), "smart") {
		return DeviceSmartTV
	}
	ua := useragent.Parse(userAgent)
	if ua.Mobile || ua.Tablet {
		return DeviceMobile
	}
	return DeviceWeb
}
