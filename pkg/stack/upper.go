package stack

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/btmesh-protocol/btmesh-go/pkg/crypto"
	"github.com/btmesh-protocol/btmesh-go/pkg/keys"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
	"github.com/btmesh-protocol/btmesh-go/pkg/sequence"
)

// DecryptUpperAccess authenticates an upper-transport access PDU. With the
// AKF bit set every stored application key sharing the AID is tried; for a
// virtual destination each subscribed label UUID is tried as associated
// data. Without AKF the device key is used. Returns ErrNotDecryptable when
// nothing authenticates.
func (s *Stack) DecryptUpperAccess(upper *pdu.UpperAccessPDU) (*pdu.AccessMessage, error) {
	meta := upper.UpperMeta()
	szmic := upper.TransMic().SzMic()

	if meta.AKF {
		nonce := crypto.ApplicationNonce(szmic, meta.Seq, meta.Src, meta.Dst, meta.IvIndex)
		labels := s.labelCandidates(meta)

		for _, handle := range s.secrets.ApplicationKeysByAID(meta.AID) {
			applicationKey, err := s.secrets.ApplicationKey(handle)
			if err != nil {
				continue
			}
			if len(labels) == 0 {
				plaintext, err := applicationKey.Decrypt(nonce, upper.Payload(), upper.TransMic().Bytes(), nil)
				if err != nil {
					continue
				}
				return s.parseAccess(plaintext, keys.ForApplicationKey(handle), nil, meta)
			}
			// Trial decryption over the label candidates. More than one
			// iteration is exceedingly unlikely, but never impossible.
			for i := range labels {
				label := labels[i]
				plaintext, err := applicationKey.Decrypt(nonce, upper.Payload(), upper.TransMic().Bytes(), label[:])
				if err != nil {
					continue
				}
				return s.parseAccess(plaintext, keys.ForApplicationKey(handle), &label, meta)
			}
		}
		return nil, fmt.Errorf("access pdu with aid %#02x: %w", meta.AID, ErrNotDecryptable)
	}

	nonce := crypto.DeviceNonce(szmic, meta.Seq, meta.Src, meta.Dst, meta.IvIndex)
	plaintext, err := s.secrets.DeviceKey().Decrypt(nonce, upper.Payload(), upper.TransMic().Bytes())
	if err != nil {
		return nil, fmt.Errorf("device key access pdu: %w", ErrNotDecryptable)
	}
	return s.parseAccess(plaintext, keys.DeviceKeyHandle(), nil, meta)
}

func (s *Stack) parseAccess(plaintext []byte, handle keys.KeyHandle, label *uuid.UUID, meta *pdu.UpperMetadata) (*pdu.AccessMessage, error) {
	return pdu.ParseAccessMessage(plaintext, pdu.AccessMetadata{
		IvIndex:           meta.IvIndex,
		KeyHandle:         handle,
		Src:               meta.Src,
		Dst:               meta.Dst,
		TTL:               meta.TTL,
		LocalElementIndex: meta.LocalElementIndex,
		Label:             label,
	})
}

// labelCandidates returns the label UUIDs to trial-decrypt with for a
// virtual destination.
func (s *Stack) labelCandidates(meta *pdu.UpperMetadata) []uuid.UUID {
	if len(meta.LabelUUIDs) > 0 {
		return meta.LabelUUIDs
	}
	if meta.Dst.IsVirtual() {
		return s.subscriptions.LabelsFor(meta.Dst)
	}
	return nil
}

// EncryptAccess encrypts an outbound access message at the upper
// transport, allocating its sequence number.
func (s *Stack) EncryptAccess(counter *sequence.Counter, message *pdu.AccessMessage) (*pdu.UpperAccessPDU, error) {
	meta := message.AccessMeta()
	seq, err := counter.Next()
	if err != nil {
		return nil, err
	}

	ivIndex := s.transmissionIvIndex()
	payload := message.Emit()
	micSize := mesh.SzMic32.Size()

	var (
		ciphertext []byte
		mic        []byte
		akf        bool
		aid        uint8
		netHandle  keys.NetworkKeyHandle
		labels     []uuid.UUID
	)

	src, err := s.localSource(meta)
	if err != nil {
		return nil, err
	}

	switch meta.KeyHandle.Kind {
	case keys.KeyHandleApplication:
		applicationKey, err := s.secrets.ApplicationKey(meta.KeyHandle.Application)
		if err != nil {
			return nil, err
		}
		netHandle, err = s.secrets.NetworkKeyForApplication(meta.KeyHandle.Application)
		if err != nil {
			return nil, err
		}
		var labelAAD []byte
		if meta.Label != nil {
			labelAAD = meta.Label[:]
			labels = []uuid.UUID{*meta.Label}
		}
		nonce := crypto.ApplicationNonce(mesh.SzMic32, seq, src, meta.Dst, ivIndex)
		ciphertext, mic, err = applicationKey.Encrypt(nonce, payload, labelAAD, micSize)
		if err != nil {
			return nil, err
		}
		akf, aid = true, meta.KeyHandle.Application.AID
	case keys.KeyHandleDevice:
		netHandle, err = s.secrets.PrimaryNetworkKeyHandle()
		if err != nil {
			return nil, err
		}
		nonce := crypto.DeviceNonce(mesh.SzMic32, seq, src, meta.Dst, ivIndex)
		ciphertext, mic, err = s.secrets.DeviceKey().Encrypt(nonce, payload, micSize)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("key handle kind %d: %w", meta.KeyHandle.Kind, ErrInvalidPDU)
	}

	transMic, err := pdu.ParseTransMic(mic)
	if err != nil {
		return nil, err
	}

	return pdu.NewUpperAccess(ciphertext, transMic, pdu.UpperMetadata{
		NetworkKeyHandle:  netHandle,
		IvIndex:           ivIndex,
		LocalElementIndex: meta.LocalElementIndex,
		AKF:               akf,
		AID:               aid,
		Seq:               seq,
		Src:               src,
		Dst:               meta.Dst,
		TTL:               meta.TTL,
		LabelUUIDs:        labels,
	}), nil
}

// localSource resolves the sending element's unicast address.
func (s *Stack) localSource(meta *pdu.AccessMetadata) (mesh.UnicastAddress, error) {
	index := meta.LocalElementIndex
	if index == pdu.NoLocalElement {
		index = 0
	}
	if uint8(index) >= s.deviceInfo.ElementCount {
		return 0, fmt.Errorf("element index %d of %d: %w", index, s.deviceInfo.ElementCount, mesh.ErrInvalidValue)
	}
	return s.deviceInfo.PrimaryAddress + mesh.UnicastAddress(index), nil
}
