package hmdtu

// Thin hardware access interfaces so the drivers don't import periph all over the place and
// tests can substitute scripted fakes.

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// SPI is a full-duplex SPI device connection.
type SPI interface {
	Tx(w, r []byte) error
	Speed(hz int64) error
	Configure(mode int, bits int) error
	Close() error
}

const (
	SPIMode0 = 0x0 // CPOL=0, CPHA=0
	SPIMode1 = 0x1 // CPOL=0, CPHA=1
	SPIMode2 = 0x2 // CPOL=1, CPHA=0
	SPIMode3 = 0x3 // CPOL=1, CPHA=1
)

// GPIO is a single digital pin.
type GPIO interface {
	In(edge int) error
	Read() int
	WaitForEdge(timeout time.Duration) bool
	Out(level int)
	Number() int
}

const (
	GpioLow         = 0
	GpioHigh        = 1
	GpioNoEdge      = 0
	GpioRisingEdge  = 1
	GpioFallingEdge = 2
)

// Init initializes the periph host drivers. Must be called once before NewSPI or NewGPIO.
func Init() error {
	_, err := host.Init()
	return err
}

// NewSPI opens the named SPI port (e.g. "/dev/spidev0.0" or "" for the first one) and
// connects at the given speed in mode 0.
func NewSPI(port string, hz int64) (SPI, error) {
	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("spi: cannot open port %q: %s", port, err)
	}
	c, err := p.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("spi: cannot configure port %q: %s", port, err)
	}
	return &spiDev{port: p, conn: c, hz: hz}, nil
}

type spiDev struct {
	port spi.PortCloser
	conn spi.Conn
	hz   int64
}

func (s *spiDev) Tx(w, r []byte) error { return s.conn.Tx(w, r) }

func (s *spiDev) Speed(hz int64) error {
	if hz == s.hz {
		return nil
	}
	if err := s.port.LimitSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
		return err
	}
	s.hz = hz
	return nil
}

func (s *spiDev) Configure(mode int, bits int) error {
	if mode != SPIMode0 || bits != 8 {
		return fmt.Errorf("spi: only mode 0 with 8-bit words is supported")
	}
	return nil
}

func (s *spiDev) Close() error { return s.port.Close() }

// NewGPIO opens a pin by name or number ("22", "GPIO22").
func NewGPIO(name string) GPIO {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil
	}
	return &pin{p: p}
}

type pin struct {
	p gpio.PinIO
}

func (g *pin) In(edge int) error {
	e := []gpio.Edge{gpio.NoEdge, gpio.RisingEdge, gpio.FallingEdge}[edge]
	return g.p.In(gpio.PullNoChange, e)
}

func (g *pin) Read() int {
	if g.p.Read() == gpio.High {
		return GpioHigh
	}
	return GpioLow
}

func (g *pin) WaitForEdge(timeout time.Duration) bool {
	return g.p.WaitForEdge(timeout)
}

func (g *pin) Out(level int) {
	g.p.Out(level == GpioHigh)
}

func (g *pin) Number() int { return g.p.Number() }
