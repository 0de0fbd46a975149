package ethernet

import (
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// classifierExpr admits only the traffic this stack speaks. Everything else
// is rejected in the kernel so the pump never wakes for foreign frames.
const classifierExpr = "arp or ip"

// attachClassifier compiles the classifier with libpcap and attaches the raw
// program to the socket.
func attachClassifier(fd int) error {
	pcapBPF, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, readBufferLen, classifierExpr)
	if err != nil {
		return err
	}
	rawBPF := make([]bpf.RawInstruction, len(pcapBPF))
	for i, inst := range pcapBPF {
		rawBPF[i] = bpf.RawInstruction{
			Op: inst.Code,
			Jt: inst.Jt,
			Jf: inst.Jf,
			K:  inst.K,
		}
	}

	filters := make([]unix.SockFilter, len(rawBPF))
	for i, inst := range rawBPF {
		filters[i] = unix.SockFilter{
			Code: inst.Op,
			Jt:   inst.Jt,
			Jf:   inst.Jf,
			K:    inst.K,
		}
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filters)),
		Filter: &filters[0],
	}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog)
}
