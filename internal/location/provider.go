package location

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
	"googlemaps.github.io/maps"

	"miraattend/internal/geofence"
)

// Provider failure kinds. Implementations wrap their platform errors with
// these sentinels so the session can classify them.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location information unavailable")
	ErrTimeout          = errors.New("location request timed out")
)

// Update is one callback from a continuous location watch. Exactly one of
// Reading or Err is meaningful; an Err terminates the stream.
type Update struct {
	Reading geofence.Reading
	Err     error
}

// Provider is a continuous-watch location source. Watch returns an error only
// when the platform has no location capability at all; runtime failures are
// delivered on the update channel. The subscription ends when ctx is
// cancelled.
type Provider interface {
	Watch(ctx context.Context) (<-chan Update, error)
}

// NMEAProvider reads GGA sentences from a GPS receiver on a serial port.
type NMEAProvider struct {
	port     string
	baudRate int
}

// NewNMEAProvider creates a provider for a serial GPS device.
func NewNMEAProvider(port string, baudRate int) *NMEAProvider {
	return &NMEAProvider{port: port, baudRate: baudRate}
}

// Watch opens the serial port and streams position fixes until ctx ends.
func (p *NMEAProvider) Watch(ctx context.Context) (<-chan Update, error) {
	if p.port == "" {
		return nil, errors.New("no GPS serial port configured")
	}
	s, err := serial.OpenPort(&serial.Config{Name: p.port, Baud: p.baudRate})
	if err != nil {
		return nil, err
	}
	return watchSentences(ctx, s), nil
}

// watchSentences streams GGA fixes from an NMEA sentence source. Closing the
// source is the only way to interrupt a blocked read, so cancellation closes
// it from the side; the redundant Close on the normal exit path is harmless.
func watchSentences(ctx context.Context, src io.ReadCloser) <-chan Update {
	go func() {
		<-ctx.Done()
		src.Close()
	}()

	out := make(chan Update)
	go func() {
		defer close(out)
		defer src.Close()

		scanner := bufio.NewScanner(src)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Text()
			if !strings.HasPrefix(line, "$GPGGA") && !strings.HasPrefix(line, "$GNGGA") {
				continue
			}
			sentence, err := nmea.Parse(line)
			if err != nil {
				continue
			}
			gga, ok := sentence.(nmea.GGA)
			if !ok || gga.FixQuality == "0" {
				continue
			}
			update := Update{Reading: geofence.Reading{
				Coordinate: geofence.Coordinate{
					Latitude:  gga.Latitude,
					Longitude: gga.Longitude,
				},
				// HDOP scaled by a nominal 5 m user-range error gives
				// horizontal accuracy in meters.
				AccuracyMeters: float64(gga.HDOP) * 5,
				CapturedAt:     time.Now(),
			}}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case out <- Update{Err: errors.Join(ErrUnavailable, err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// GoogleProvider resolves location through the Google Maps Geolocation API
// using IP-based positioning. Useful for kiosks without a GPS receiver; the
// returned accuracy is usually too coarse to resolve a tight fence, which the
// session surfaces as a timeout.
type GoogleProvider struct {
	client   *maps.Client
	interval time.Duration
}

// NewGoogleProvider creates a geolocation provider polling at the given interval.
func NewGoogleProvider(apiKey string, interval time.Duration) (*GoogleProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &GoogleProvider{client: c, interval: interval}, nil
}

// Watch polls the geolocation API until ctx ends.
func (p *GoogleProvider) Watch(ctx context.Context) (<-chan Update, error) {
	out := make(chan Update)
	go func() {
		defer close(out)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			resp, err := p.client.Geolocate(ctx, &maps.GeolocationRequest{ConsiderIP: true})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case out <- Update{Err: errors.Join(ErrUnavailable, err)}:
				case <-ctx.Done():
				}
				return
			}
			update := Update{Reading: geofence.Reading{
				Coordinate: geofence.Coordinate{
					Latitude:  resp.Location.Lat,
					Longitude: resp.Location.Lng,
				},
				AccuracyMeters: resp.Accuracy,
				CapturedAt:     time.Now(),
			}}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StaticProvider emits a fixed sequence of updates at an interval, then goes
// quiet. Used by the kiosk simulation mode.
type StaticProvider struct {
	Updates  []Update
	Interval time.Duration
}

// Watch replays the configured updates.
func (p *StaticProvider) Watch(ctx context.Context) (<-chan Update, error) {
	out := make(chan Update)
	go func() {
		defer close(out)
		for _, u := range p.Updates {
			if p.Interval > 0 {
				select {
				case <-time.After(p.Interval):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return out, nil
}
