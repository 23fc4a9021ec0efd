package stack

import (
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
)

// maxUnsegmentedAccess is the largest encrypted payload plus MIC that fits
// an unsegmented access PDU: the 16-octet transport window minus the
// AKF|AID octet.
const maxUnsegmentedAccess = 15

// segmentUpperAccess frames an upper access PDU into one unsegmented or
// several segmented cleartext network PDUs. On first transmission the
// upper PDU's own sequence number goes on the first segment, keeping
// SeqZero aligned with the encryption nonce; retransmissions and later
// segments draw fresh numbers. acked marks segments to skip.
func (s *Stack) segmentUpperAccess(nextSeq func() (mesh.Seq, error), upper *pdu.UpperAccessPDU, isRetransmit bool, acked *pdu.BlockAck) ([]*pdu.CleartextNetworkPDU, error) {
	meta := upper.UpperMeta()
	data := upper.Emit()

	if len(data) <= maxUnsegmentedAccess {
		lower, err := pdu.NewUnsegmentedAccess(meta.AKF, meta.AID, data, lowerMetaFromUpper(meta, meta.Seq))
		if err != nil {
			return nil, err
		}
		clear, err := s.cleartextFromLower(lower, mesh.CtlAccess)
		if err != nil {
			return nil, err
		}
		return []*pdu.CleartextNetworkPDU{clear}, nil
	}

	seqZero := meta.Seq.SeqZero()
	szmic := upper.TransMic().SzMic()
	segN := uint8((len(data) - 1) / pdu.AccessSegmentSize)

	var out []*pdu.CleartextNetworkPDU
	for segO := uint8(0); segO <= segN; segO++ {
		start := int(segO) * pdu.AccessSegmentSize
		end := start + pdu.AccessSegmentSize
		if end > len(data) {
			end = len(data)
		}

		if acked != nil {
			if seen, err := acked.IsAcked(segO); err == nil && seen {
				continue
			}
		}

		seq := meta.Seq
		if isRetransmit || segO > 0 {
			var err error
			seq, err = nextSeq()
			if err != nil {
				return nil, err
			}
		}

		lower, err := pdu.NewSegmentedAccess(meta.AKF, meta.AID, szmic, seqZero, segO, segN, data[start:end], lowerMetaFromUpper(meta, seq))
		if err != nil {
			return nil, err
		}
		clear, err := s.cleartextFromLower(lower, mesh.CtlAccess)
		if err != nil {
			return nil, err
		}
		out = append(out, clear)
	}
	return out, nil
}

func lowerMetaFromUpper(meta *pdu.UpperMetadata, seq mesh.Seq) pdu.LowerMetadata {
	return pdu.LowerMetadata{
		NetworkKeyHandle:  meta.NetworkKeyHandle,
		IvIndex:           meta.IvIndex,
		LocalElementIndex: meta.LocalElementIndex,
		Src:               meta.Src,
		Dst:               meta.Dst,
		TTL:               meta.TTL,
		Seq:               seq,
	}
}
