package meshpb

// User 节点所有者信息
type User struct {
	ID         string
	LongName   string
	ShortName  string
	HWModel    int32
	IsLicensed bool
	Role       int32
}

func (u *User) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, u.ID)
	b = appendString(b, 2, u.LongName)
	b = appendString(b, 3, u.ShortName)
	b = appendVarint(b, 5, uint64(u.HWModel))
	b = appendBool(b, 6, u.IsLicensed)
	b = appendVarint(b, 7, uint64(u.Role))
	return b, nil
}

func (u *User) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			u.ID = string(f.bytes)
		case 2:
			u.LongName = string(f.bytes)
		case 3:
			u.ShortName = string(f.bytes)
		case 5:
			u.HWModel = int32(f.varint)
		case 6:
			u.IsLicensed = f.bool()
		case 7:
			u.Role = int32(f.varint)
		}
		return nil
	})
}
