package cache

import "github.com/vmihailenco/msgpack/v5"

func Encode[T any](value T) ([]byte, error) {
	return msgpack.Marshal(value)
}

func Decode[T any](data []byte) (T, error) {
	var value T
	err := msgpack.Unmarshal(data, &value)
	return value, err
}
