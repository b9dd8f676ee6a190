package wtdb

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	bolt "go.etcd.io/bbolt"

	"github.com/decred/dcrwtclient/internal/wterr"
)

// File layout, following the teacher's channeldb/watchtower bucket
// conventions: a single bbolt file with a handful of top-level buckets.
var (
	clientKeyBkt = []byte("client-key")
	clientKeyKey = []byte("key")

	towerBkt = []byte("towers")

	// towerAppointmentsBkt holds one nested bucket per tower id, each
	// with "delivered", "pending", and "invalid" sub-buckets.
	towerAppointmentsBkt = []byte("tower-appointments")
	deliveredSubBkt      = []byte("delivered")
	pendingSubBkt        = []byte("pending")
	invalidSubBkt        = []byte("invalid")

	// blobBkt stores each pending/invalid appointment's body exactly
	// once, keyed by locator, with a reference count so it can be
	// garbage collected once no tower references it any longer.
	blobBkt = []byte("appointment-blobs")

	misbehaviorBkt = []byte("misbehavior-proofs")
)

// BoltStore is a bbolt-backed implementation of Store.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if necessary, with 0600 permissions) the
// watchtower client's database file and ensures every top-level bucket
// exists.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("wtdb: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			clientKeyBkt, towerBkt, towerAppointmentsBkt, blobBkt, misbehaviorBkt,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("wtdb: init buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// LoadClientKey implements Store.
func (s *BoltStore) LoadClientKey() (*secp256k1.PrivateKey, error) {
	var skBytes []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(clientKeyBkt).Get(clientKeyKey)
		if v == nil {
			return ErrNoClientKey
		}
		skBytes = append(skBytes, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return secp256k1.PrivKeyFromBytes(skBytes), nil
}

// StoreClientKey implements Store.
func (s *BoltStore) StoreClientKey(sk *secp256k1.PrivateKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(clientKeyBkt).Put(clientKeyKey, sk.Serialize())
	})
}

func encodeTowerRecord(t *TowerSummary, regSig []byte) []byte {
	buf := make([]byte, 0, 2+len(t.NetAddr)+4+4+1+1+2+len(regSig))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(t.NetAddr)))
	buf = append(buf, t.NetAddr...)
	buf = binary.BigEndian.AppendUint32(buf, t.AvailableSlots)
	buf = binary.BigEndian.AppendUint32(buf, t.SubscriptionExpiry)
	buf = append(buf, byte(t.Status))
	abandoned := byte(0)
	if t.Abandoned {
		abandoned = 1
	}
	buf = append(buf, abandoned)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(regSig)))
	buf = append(buf, regSig...)
	return buf
}

func decodeTowerRecord(b []byte) (*TowerSummary, []byte, error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("wtdb: corrupt tower record")
	}
	addrLen := binary.BigEndian.Uint16(b)
	b = b[2:]
	if len(b) < int(addrLen)+4+4+1+1+2 {
		return nil, nil, fmt.Errorf("wtdb: corrupt tower record")
	}
	netAddr := string(b[:addrLen])
	b = b[addrLen:]
	slots := binary.BigEndian.Uint32(b)
	b = b[4:]
	expiry := binary.BigEndian.Uint32(b)
	b = b[4:]
	status := TowerStatus(b[0])
	abandoned := b[1] != 0
	b = b[2:]

	sigLen := binary.BigEndian.Uint16(b)
	b = b[2:]
	if len(b) < int(sigLen) {
		return nil, nil, fmt.Errorf("wtdb: corrupt tower record")
	}
	regSig := append([]byte{}, b[:sigLen]...)

	return &TowerSummary{
		NetAddr:             netAddr,
		AvailableSlots:      slots,
		SubscriptionExpiry:  expiry,
		Status:              status,
		Abandoned:           abandoned,
		PendingAppointments: make(map[Locator]struct{}),
		InvalidAppointments: make(map[Locator]struct{}),
	}, regSig, nil
}

// StoreTowerRecord implements Store.
func (s *BoltStore) StoreTowerRecord(towerID ID, netAddr string, receipt RegistrationReceipt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(towerBkt)
		existing := bkt.Get(towerID[:])
		if existing != nil {
			prev, _, err := decodeTowerRecord(existing)
			if err != nil {
				return err
			}
			if receipt.SubscriptionExpiry <= prev.SubscriptionExpiry ||
				receipt.AvailableSlots <= prev.AvailableSlots {
				return fmt.Errorf("%w: %w", wterr.Subscription, ErrSubscriptionDowngrade)
			}
		} else {
			if _, err := tx.Bucket(towerAppointmentsBkt).CreateBucketIfNotExists(towerID[:]); err != nil {
				return err
			}
		}

		summary := NewTowerSummary(netAddr, receipt.AvailableSlots, receipt.SubscriptionExpiry)
		return bkt.Put(towerID[:], encodeTowerRecord(summary, receipt.Signature))
	})
}

// LoadTowers implements Store.
func (s *BoltStore) LoadTowers() (map[ID]*TowerSummary, error) {
	towers := make(map[ID]*TowerSummary)

	err := s.db.View(func(tx *bolt.Tx) error {
		towerBucket := tx.Bucket(towerBkt)
		apptsBucket := tx.Bucket(towerAppointmentsBkt)

		return towerBucket.ForEach(func(k, v []byte) error {
			var towerID ID
			copy(towerID[:], k)

			summary, _, err := decodeTowerRecord(v)
			if err != nil {
				return err
			}

			if nested := apptsBucket.Bucket(k); nested != nil {
				if pending := nested.Bucket(pendingSubBkt); pending != nil {
					if err := pending.ForEach(func(lk, _ []byte) error {
						var loc Locator
						copy(loc[:], lk)
						summary.PendingAppointments[loc] = struct{}{}
						return nil
					}); err != nil {
						return err
					}
				}
				if invalid := nested.Bucket(invalidSubBkt); invalid != nil {
					if err := invalid.ForEach(func(lk, _ []byte) error {
						var loc Locator
						copy(loc[:], lk)
						summary.InvalidAppointments[loc] = struct{}{}
						return nil
					}); err != nil {
						return err
					}
				}
			}

			towers[towerID] = summary
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return towers, nil
}

// LoadTowerRecord implements Store.
func (s *BoltStore) LoadTowerRecord(towerID ID) (TowerInfo, error) {
	var info TowerInfo

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(towerBkt).Get(towerID[:])
		if v == nil {
			return ErrTowerNotFound
		}
		summary, regSig, err := decodeTowerRecord(v)
		if err != nil {
			return err
		}
		info.NetAddr = summary.NetAddr
		info.AvailableSlots = summary.AvailableSlots
		info.SubscriptionExpiry = summary.SubscriptionExpiry
		info.Status = summary.Status
		info.RegistrationSignature = regSig
		info.Appointments = make(map[Locator][]byte)

		nested := tx.Bucket(towerAppointmentsBkt).Bucket(towerID[:])
		blobs := tx.Bucket(blobBkt)
		if nested != nil {
			if delivered := nested.Bucket(deliveredSubBkt); delivered != nil {
				if err := delivered.ForEach(func(lk, lv []byte) error {
					var loc Locator
					copy(loc[:], lk)
					sig := make([]byte, len(lv))
					copy(sig, lv)
					info.Appointments[loc] = sig
					return nil
				}); err != nil {
					return err
				}
			}
			if pending := nested.Bucket(pendingSubBkt); pending != nil {
				if err := pending.ForEach(func(lk, _ []byte) error {
					appt, ok, err := loadBlob(blobs, lk)
					if err != nil {
						return err
					}
					if ok {
						info.PendingAppointments = append(info.PendingAppointments, appt)
					}
					return nil
				}); err != nil {
					return err
				}
			}
			if invalid := nested.Bucket(invalidSubBkt); invalid != nil {
				if err := invalid.ForEach(func(lk, _ []byte) error {
					appt, ok, err := loadBlob(blobs, lk)
					if err != nil {
						return err
					}
					if ok {
						info.InvalidAppointments = append(info.InvalidAppointments, appt)
					}
					return nil
				}); err != nil {
					return err
				}
			}
		}

		if pv := tx.Bucket(misbehaviorBkt).Get(towerID[:]); pv != nil {
			proof, err := decodeMisbehaviorProof(pv)
			if err != nil {
				return err
			}
			info.MisbehaviorProof = &proof
		}

		return nil
	})
	if err != nil {
		return TowerInfo{}, err
	}
	return info, nil
}

func encodeBlob(appt Appointment, refcount uint32) []byte {
	buf := make([]byte, 0, 4+4+4+len(appt.EncryptedBlob))
	buf = binary.BigEndian.AppendUint32(buf, refcount)
	buf = binary.BigEndian.AppendUint32(buf, appt.ToSelfDelay)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(appt.EncryptedBlob)))
	buf = append(buf, appt.EncryptedBlob...)
	return buf
}

func decodeBlob(locator Locator, b []byte) (Appointment, uint32, error) {
	if len(b) < 12 {
		return Appointment{}, 0, fmt.Errorf("wtdb: corrupt appointment blob")
	}
	refcount := binary.BigEndian.Uint32(b)
	toSelfDelay := binary.BigEndian.Uint32(b[4:])
	blobLen := binary.BigEndian.Uint32(b[8:])
	b = b[12:]
	if len(b) < int(blobLen) {
		return Appointment{}, 0, fmt.Errorf("wtdb: corrupt appointment blob")
	}
	blob := make([]byte, blobLen)
	copy(blob, b[:blobLen])

	return Appointment{
		Locator:       locator,
		EncryptedBlob: blob,
		ToSelfDelay:   toSelfDelay,
	}, refcount, nil
}

func loadBlob(blobs *bolt.Bucket, locatorBytes []byte) (Appointment, bool, error) {
	v := blobs.Get(locatorBytes)
	if v == nil {
		return Appointment{}, false, nil
	}
	var loc Locator
	copy(loc[:], locatorBytes)
	appt, _, err := decodeBlob(loc, v)
	if err != nil {
		return Appointment{}, false, err
	}
	return appt, true, nil
}

// StorePendingAppointment implements Store.
func (s *BoltStore) StorePendingAppointment(towerID ID, appt Appointment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nested, err := towerAppointmentsSubBucket(tx, towerID, pendingSubBkt)
		if err != nil {
			return err
		}

		// Re-storing a locator the tower already has pending (as the
		// retrier does after a failed attempt) adds no new reference.
		if nested.Get(appt.Locator[:]) != nil {
			return nil
		}

		if err := bumpBlobRefcount(tx.Bucket(blobBkt), appt, 1); err != nil {
			return err
		}

		return nested.Put(appt.Locator[:], []byte{})
	})
}

// DeletePendingAppointment implements Store.
func (s *BoltStore) DeletePendingAppointment(towerID ID, locator Locator) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nested, err := towerAppointmentsSubBucket(tx, towerID, pendingSubBkt)
		if err != nil {
			return err
		}
		if nested.Get(locator[:]) == nil {
			return nil
		}
		if err := nested.Delete(locator[:]); err != nil {
			return err
		}
		return decBlobRefcountAndMaybeGC(tx.Bucket(blobBkt), locator)
	})
}

// StoreInvalidAppointment implements Store.
func (s *BoltStore) StoreInvalidAppointment(towerID ID, appt Appointment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nested, err := towerAppointmentsSubBucket(tx, towerID, invalidSubBkt)
		if err != nil {
			return err
		}
		if err := bumpBlobRefcount(tx.Bucket(blobBkt), appt, 1); err != nil {
			return err
		}
		return nested.Put(appt.Locator[:], []byte{})
	})
}

// StoreAppointmentReceipt implements Store.
func (s *BoltStore) StoreAppointmentReceipt(towerID ID, locator Locator, availableSlots uint32, receipt AppointmentReceipt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		nested, err := towerAppointmentsSubBucket(tx, towerID, deliveredSubBkt)
		if err != nil {
			return err
		}
		if err := nested.Put(locator[:], receipt.TowerSignature); err != nil {
			return err
		}

		v := tx.Bucket(towerBkt).Get(towerID[:])
		if v == nil {
			return ErrTowerNotFound
		}
		summary, regSig, err := decodeTowerRecord(v)
		if err != nil {
			return err
		}
		summary.AvailableSlots = availableSlots
		return tx.Bucket(towerBkt).Put(towerID[:], encodeTowerRecord(summary, regSig))
	})
}

// StoreMisbehavingProof implements Store.
func (s *BoltStore) StoreMisbehavingProof(towerID ID, proof MisbehaviorProof) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(misbehaviorBkt).Put(towerID[:], encodeMisbehaviorProof(proof)); err != nil {
			return err
		}

		v := tx.Bucket(towerBkt).Get(towerID[:])
		if v == nil {
			return ErrTowerNotFound
		}
		summary, regSig, err := decodeTowerRecord(v)
		if err != nil {
			return err
		}
		summary.Status = StatusMisbehaving
		return tx.Bucket(towerBkt).Put(towerID[:], encodeTowerRecord(summary, regSig))
	})
}

// LoadAppointmentLocators implements Store.
func (s *BoltStore) LoadAppointmentLocators(towerID ID, kind AppointmentStatusKind) ([]Locator, error) {
	var subName []byte
	switch kind {
	case Pending:
		subName = pendingSubBkt
	case Invalid:
		subName = invalidSubBkt
	case Delivered:
		subName = deliveredSubBkt
	default:
		return nil, fmt.Errorf("wtdb: unknown appointment status kind %d", kind)
	}

	var locators []Locator
	err := s.db.View(func(tx *bolt.Tx) error {
		nested := tx.Bucket(towerAppointmentsBkt).Bucket(towerID[:])
		if nested == nil {
			return nil
		}
		sub := nested.Bucket(subName)
		if sub == nil {
			return nil
		}
		return sub.ForEach(func(k, _ []byte) error {
			var loc Locator
			copy(loc[:], k)
			locators = append(locators, loc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return locators, nil
}

// RemoveTower implements Store.
func (s *BoltStore) RemoveTower(towerID ID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		blobs := tx.Bucket(blobBkt)
		if nested := tx.Bucket(towerAppointmentsBkt).Bucket(towerID[:]); nested != nil {
			for _, subName := range [][]byte{pendingSubBkt, invalidSubBkt} {
				sub := nested.Bucket(subName)
				if sub == nil {
					continue
				}
				if err := sub.ForEach(func(k, _ []byte) error {
					return decBlobRefcountAndMaybeGC(blobs, Locator(locatorFromBytes(k)))
				}); err != nil {
					return err
				}
			}
			if err := tx.Bucket(towerAppointmentsBkt).DeleteBucket(towerID[:]); err != nil {
				return err
			}
		}

		if err := tx.Bucket(misbehaviorBkt).Delete(towerID[:]); err != nil {
			return err
		}
		return tx.Bucket(towerBkt).Delete(towerID[:])
	})
}

func locatorFromBytes(b []byte) [16]byte {
	var loc [16]byte
	copy(loc[:], b)
	return loc
}

func towerAppointmentsSubBucket(tx *bolt.Tx, towerID ID, subName []byte) (*bolt.Bucket, error) {
	nested := tx.Bucket(towerAppointmentsBkt).Bucket(towerID[:])
	if nested == nil {
		created, err := tx.Bucket(towerAppointmentsBkt).CreateBucket(towerID[:])
		if err != nil {
			return nil, err
		}
		nested = created
	}
	return nested.CreateBucketIfNotExists(subName)
}

func bumpBlobRefcount(blobs *bolt.Bucket, appt Appointment, delta int) error {
	existing := blobs.Get(appt.Locator[:])
	refcount := uint32(0)
	if existing != nil {
		_, rc, err := decodeBlob(appt.Locator, existing)
		if err != nil {
			return err
		}
		refcount = rc
	}
	refcount = uint32(int(refcount) + delta)
	return blobs.Put(appt.Locator[:], encodeBlob(appt, refcount))
}

func decBlobRefcountAndMaybeGC(blobs *bolt.Bucket, locator Locator) error {
	existing := blobs.Get(locator[:])
	if existing == nil {
		return nil
	}
	appt, refcount, err := decodeBlob(locator, existing)
	if err != nil {
		return err
	}
	if refcount <= 1 {
		log.Debugf("garbage collecting appointment blob %s, last reference released", locator)
		return blobs.Delete(locator[:])
	}
	return blobs.Put(locator[:], encodeBlob(appt, refcount-1))
}

func encodeMisbehaviorProof(p MisbehaviorProof) []byte {
	buf := make([]byte, 0, 16+IDSize)
	buf = append(buf, p.Locator[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.AppointmentReceipt.UserSignature)))
	buf = append(buf, p.AppointmentReceipt.UserSignature...)
	buf = binary.BigEndian.AppendUint32(buf, p.AppointmentReceipt.StartBlock)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.AppointmentReceipt.TowerSignature)))
	buf = append(buf, p.AppointmentReceipt.TowerSignature...)
	buf = append(buf, p.RecoveredTowerID[:]...)
	return buf
}

func decodeMisbehaviorProof(b []byte) (MisbehaviorProof, error) {
	if len(b) < 16+2 {
		return MisbehaviorProof{}, fmt.Errorf("wtdb: corrupt misbehavior proof")
	}
	var proof MisbehaviorProof
	copy(proof.Locator[:], b[:16])
	b = b[16:]

	userSigLen := binary.BigEndian.Uint16(b)
	b = b[2:]
	proof.AppointmentReceipt.UserSignature = append([]byte{}, b[:userSigLen]...)
	b = b[userSigLen:]

	proof.AppointmentReceipt.StartBlock = binary.BigEndian.Uint32(b)
	b = b[4:]

	towerSigLen := binary.BigEndian.Uint16(b)
	b = b[2:]
	proof.AppointmentReceipt.TowerSignature = append([]byte{}, b[:towerSigLen]...)
	b = b[towerSigLen:]

	copy(proof.RecoveredTowerID[:], b[:IDSize])
	proof.AppointmentReceipt.Locator = proof.Locator

	return proof, nil
}

// DataDirPermissions is the mode new data directories are created with.
const DataDirPermissions = 0700

// EnsureDataDir creates dir (and parents) if it does not already exist.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(dir, DataDirPermissions)
}
