// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerNum identifies the frame layer.
const LayerNum = 2050

// LayerType is the gopacket layer type of a serialized frame.
var LayerType = gopacket.LayerType(LayerNum)

func init() {
	gopacket.RegisterLayerType(LayerNum,
		gopacket.LayerTypeMetadata{Name: "SyncInFrame", Decoder: gopacket.DecodeFunc(decodeLayer)},
	)
}

// Layer is a frame as a gopacket layer.
// Packets are sequences of frames: the payload of a frame layer is the
// next frame, if any.
type Layer struct {
	layers.BaseLayer
	Layout Layout
	Frame  Frame
}

func (l *Layer) LayerType() gopacket.LayerType { return LayerType }

func (l *Layer) CanDecode() gopacket.LayerClass { return LayerType }

func (l *Layer) NextLayerType() gopacket.LayerType {
	if len(l.Payload) == 0 {
		return gopacket.LayerTypeZero
	}
	return LayerType
}

func (l *Layer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	dec := NewDecoder(bytes.NewReader(data))
	err := dec.Decode(&l.Layout, &l.Frame)
	if err != nil {
		df.SetTruncated()
		return err
	}
	l.BaseLayer = layers.BaseLayer{Contents: data[:dec.n], Payload: data[dec.n:]}
	return nil
}

func (l *Layer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	var buf bytes.Buffer
	err := NewEncoder(&buf).Encode(l.Layout, l.Frame)
	if err != nil {
		return err
	}
	raw, err := b.PrependBytes(buf.Len())
	if err != nil {
		return err
	}
	copy(raw, buf.Bytes())
	return nil
}

func decodeLayer(data []byte, p gopacket.PacketBuilder) error {
	l := &Layer{}
	err := l.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(l)
	if len(l.Payload) == 0 {
		return nil
	}
	return p.NextDecoder(LayerType)
}

// Serialize packs frames sharing a layout into one packet.
func Serialize(lay Layout, fs ...Frame) ([]byte, error) {
	ls := make([]gopacket.SerializableLayer, len(fs))
	for i := range fs {
		ls[i] = &Layer{Layout: lay, Frame: fs[i]}
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, ls...)
	if err != nil {
		return nil, fmt.Errorf("frame: could not serialize %d frames: %w", len(fs), err)
	}
	return buf.Bytes(), nil
}

// DecodePacket decodes all the frames of a packet.
func DecodePacket(data []byte) ([]*Layer, error) {
	pkt := gopacket.NewPacket(data, LayerType, gopacket.Default)
	if el := pkt.ErrorLayer(); el != nil {
		return nil, fmt.Errorf("frame: could not decode packet: %w", el.Error())
	}
	var o []*Layer
	for _, l := range pkt.Layers() {
		if fl, ok := l.(*Layer); ok {
			o = append(o, fl)
		}
	}
	return o, nil
}
