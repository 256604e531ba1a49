package slave

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/simonvetter/modbus"

	"github.com/tonylturner/mbstack/internal/mapping"
	"github.com/tonylturner/mbstack/internal/master"
	"github.com/tonylturner/mbstack/internal/transport"
)

func startServer(t *testing.T, backlog int) *Server {
	t.Helper()
	ch, err := transport.NewTCP("127.0.0.1", 0)
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(ch, newTestHandler(t), backlog, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func newInteropClient(t *testing.T, addr net.Addr) *modbus.ModbusClient {
	t.Helper()
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     "tcp://" + addr.String(),
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServerInterop(t *testing.T) {
	s := startServer(t, 2)
	client := newInteropClient(t, s.Addr())

	if err := client.WriteRegisters(regsAddr, []uint16{0x022B, 0x0001, 0x0064}); err != nil {
		t.Fatalf("WriteRegisters() error = %v", err)
	}
	regs, err := client.ReadRegisters(regsAddr, 3, modbus.HOLDING_REGISTER)
	if err != nil {
		t.Fatalf("ReadRegisters() error = %v", err)
	}
	if regs[0] != 0x022B || regs[1] != 0x0001 || regs[2] != 0x0064 {
		t.Errorf("ReadRegisters() = %04X", regs)
	}

	in, err := client.ReadRegister(inputRegsAddr, modbus.INPUT_REGISTER)
	if err != nil || in != 0x000A {
		t.Errorf("ReadRegister(input) = 0x%04X, %v; want 0x000A", in, err)
	}

	if err := client.WriteCoil(bitsAddr+1, true); err != nil {
		t.Fatalf("WriteCoil() error = %v", err)
	}
	coils, err := client.ReadCoils(bitsAddr, 2)
	if err != nil {
		t.Fatalf("ReadCoils() error = %v", err)
	}
	if coils[0] || !coils[1] {
		t.Errorf("ReadCoils() = %v, want [false true]", coils)
	}

	inputs, err := client.ReadDiscreteInputs(inputBitsAddr, 8)
	if err != nil {
		t.Fatalf("ReadDiscreteInputs() error = %v", err)
	}
	// 0xAC = 0b10101100
	want := []bool{false, false, true, true, false, true, false, true}
	for i := range want {
		if inputs[i] != want[i] {
			t.Fatalf("ReadDiscreteInputs() = %v, want %v", inputs, want)
		}
	}

	if _, err := client.ReadRegisters(0, 1, modbus.HOLDING_REGISTER); err != modbus.ErrIllegalDataAddress {
		t.Errorf("ReadRegisters(0) error = %v, want %v", err, modbus.ErrIllegalDataAddress)
	}
}

func TestServerConcurrentClients(t *testing.T) {
	s := startServer(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			port := s.Addr().(*net.TCPAddr).Port
			ch, err := transport.NewTCP("127.0.0.1", port)
			if err != nil {
				errs <- err
				return
			}
			m := master.New(ch)
			if err := m.Connect(ctx); err != nil {
				errs <- err
				return
			}
			defer m.Close()
			addr := uint16(regsAddr + i)
			if err := m.WriteRegister(ctx, addr, uint16(100+i)); err != nil {
				errs <- err
				return
			}
			regs, err := m.ReadRegisters(ctx, addr, 1)
			if err != nil {
				errs <- err
				return
			}
			if regs[0] != uint16(100+i) {
				errs <- fmt.Errorf("client %d read %d", i, regs[0])
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	regs, err := s.handler.Mapping().ReadRegisters(mapping.HoldingRegisters, regsAddr, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range regs {
		if v != uint16(100+i) {
			t.Errorf("register %d = %d, want %d", i, v, 100+i)
		}
	}
}

func TestServerStopClosesClients(t *testing.T) {
	s := startServer(t, 1)
	client := newInteropClient(t, s.Addr())
	if _, err := client.ReadRegisters(regsAddr, 1, modbus.HOLDING_REGISTER); err != nil {
		t.Fatalf("ReadRegisters() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() did not return")
	}
	if _, err := client.ReadRegisters(regsAddr, 1, modbus.HOLDING_REGISTER); err == nil {
		t.Error("read after Stop() succeeded")
	}
}
