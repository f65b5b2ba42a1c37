package encoder

// pcmEncoder produces a decodable H.264 constrained baseline stream in which
// every macroblock is coded as I_PCM. Output is lossless and large; it needs
// no external encoder, which makes it suitable for dry runs and tests.
type pcmEncoder struct {
	width, height int
	fps           int
	mbW, mbH      int
	gop           int

	count    int
	frameNum uint32
	idrID    uint32

	sps []byte
	pps []byte
}

const (
	naluHeaderSPS    = 0x67 // nal_ref_idc 3, type 7
	naluHeaderPPS    = 0x68 // nal_ref_idc 3, type 8
	naluHeaderIDR    = 0x65 // nal_ref_idc 3, type 5
	naluHeaderNonIDR = 0x61 // nal_ref_idc 3, type 1

	log2MaxFrameNum = 4
	mbTypeIPCM      = 25
	sliceTypeIAll   = 7
)

func newPCMEncoder(width, height, fps, gop int) *pcmEncoder {
	e := &pcmEncoder{
		width:  width,
		height: height,
		fps:    fps,
		mbW:    (width + 15) / 16,
		mbH:    (height + 15) / 16,
		gop:    max(gop, 1),
	}
	e.sps = e.buildSPS()
	e.pps = e.buildPPS()
	return e
}

func (e *pcmEncoder) level() uint64 {
	switch mbs := e.mbW * e.mbH; {
	case mbs <= 396:
		return 21
	case mbs <= 1620:
		return 30
	case mbs <= 3600:
		return 31
	case mbs <= 5120:
		return 32
	case mbs <= 8192:
		return 40
	case mbs <= 22080:
		return 50
	default:
		return 51
	}
}

func (e *pcmEncoder) buildSPS() []byte {
	w := &bitWriter{}
	w.writeBits(66, 8)   // profile_idc: baseline
	w.writeBits(0xC0, 8) // constraint_set0_flag, constraint_set1_flag
	w.writeBits(e.level(), 8)
	w.writeUE(0) // seq_parameter_set_id
	w.writeUE(log2MaxFrameNum - 4)
	w.writeUE(2) // pic_order_cnt_type
	w.writeUE(1) // max_num_ref_frames
	w.writeBit(0)
	w.writeUE(uint32(e.mbW - 1))
	w.writeUE(uint32(e.mbH - 1))
	w.writeBit(1) // frame_mbs_only_flag
	w.writeBit(1) // direct_8x8_inference_flag

	// Crop units are two pixels in both directions for 4:2:0 progressive.
	cropRight := (e.mbW*16 - e.width) / 2
	cropBottom := (e.mbH*16 - e.height) / 2
	if cropRight != 0 || cropBottom != 0 {
		w.writeBit(1)
		w.writeUE(0)
		w.writeUE(uint32(cropRight))
		w.writeUE(0)
		w.writeUE(uint32(cropBottom))
	} else {
		w.writeBit(0)
	}

	// VUI with timing info only
	w.writeBit(1)
	w.writeBit(0) // aspect_ratio_info_present_flag
	w.writeBit(0) // overscan_info_present_flag
	w.writeBit(0) // video_signal_type_present_flag
	w.writeBit(0) // chroma_loc_info_present_flag
	w.writeBit(1) // timing_info_present_flag
	w.writeBits(1, 32)
	w.writeBits(uint64(2*e.fps), 32)
	w.writeBit(1) // fixed_frame_rate_flag
	w.writeBit(0) // nal_hrd_parameters_present_flag
	w.writeBit(0) // vcl_hrd_parameters_present_flag
	w.writeBit(0) // pic_struct_present_flag
	w.writeBit(0) // bitstream_restriction_flag

	return append([]byte{naluHeaderSPS}, addEmulationPrevention(w.trailing())...)
}

func (e *pcmEncoder) buildPPS() []byte {
	w := &bitWriter{}
	w.writeUE(0)      // pic_parameter_set_id
	w.writeUE(0)      // seq_parameter_set_id
	w.writeBit(0)     // entropy_coding_mode_flag: CAVLC
	w.writeBit(0)     // bottom_field_pic_order_in_frame_present_flag
	w.writeUE(0)      // num_slice_groups_minus1
	w.writeUE(0)      // num_ref_idx_l0_default_active_minus1
	w.writeUE(0)      // num_ref_idx_l1_default_active_minus1
	w.writeBit(0)     // weighted_pred_flag
	w.writeBits(0, 2) // weighted_bipred_idc
	w.writeSE(0)      // pic_init_qp_minus26
	w.writeSE(0)      // pic_init_qs_minus26
	w.writeSE(0)      // chroma_qp_index_offset
	w.writeBit(1)     // deblocking_filter_control_present_flag
	w.writeBit(0)     // constrained_intra_pred_flag
	w.writeBit(0)     // redundant_pic_cnt_present_flag
	return append([]byte{naluHeaderPPS}, addEmulationPrevention(w.trailing())...)
}

// encode codes one NV12 frame as a single slice NAL unit.
func (e *pcmEncoder) encode(nv12 []byte) (nalu []byte, key bool) {
	key = e.count%e.gop == 0
	if key {
		e.frameNum = 0
	}

	w := &bitWriter{buf: make([]byte, 0, e.mbW*e.mbH*(384+2)+16)}
	w.writeUE(0) // first_mb_in_slice
	w.writeUE(sliceTypeIAll)
	w.writeUE(0) // pic_parameter_set_id
	w.writeBits(uint64(e.frameNum), log2MaxFrameNum)
	if key {
		w.writeUE(e.idrID)
		w.writeBit(0) // no_output_of_prior_pics_flag
		w.writeBit(0) // long_term_reference_flag
	} else {
		w.writeBit(0) // adaptive_ref_pic_marking_mode_flag
	}
	w.writeSE(0) // slice_qp_delta
	w.writeUE(1) // disable_deblocking_filter_idc

	block := make([]byte, 384)
	for my := 0; my < e.mbH; my++ {
		for mx := 0; mx < e.mbW; mx++ {
			w.writeUE(mbTypeIPCM)
			w.alignZero()
			e.macroblock(block, nv12, mx, my)
			w.writeBytes(block)
		}
	}

	header := byte(naluHeaderNonIDR)
	if key {
		header = naluHeaderIDR
		e.idrID = (e.idrID + 1) % 65536
	}
	e.frameNum = (e.frameNum + 1) % (1 << log2MaxFrameNum)
	e.count++

	return append([]byte{header}, addEmulationPrevention(w.trailing())...), key
}

// macroblock fills block with the 256 luma then 64 Cb and 64 Cr samples of
// macroblock (mx, my), replicating edge pixels past the frame boundary.
func (e *pcmEncoder) macroblock(block, nv12 []byte, mx, my int) {
	luma := nv12[:e.width*e.height]
	chroma := nv12[e.width*e.height:]
	cw, ch := e.width/2, e.height/2

	i := 0
	for y := 0; y < 16; y++ {
		row := min(my*16+y, e.height-1) * e.width
		for x := 0; x < 16; x++ {
			block[i] = pcmSample(luma[row+min(mx*16+x, e.width-1)])
			i++
		}
	}
	for plane := 0; plane < 2; plane++ {
		for y := 0; y < 8; y++ {
			row := min(my*8+y, ch-1) * e.width
			for x := 0; x < 8; x++ {
				block[i] = pcmSample(chroma[row+2*min(mx*8+x, cw-1)+plane])
				i++
			}
		}
	}
}

// pcmSample avoids the zero sample value reserved by early profile levels.
func pcmSample(b byte) byte {
	if b == 0 {
		return 1
	}
	return b
}

// parameterSets returns copies of the SPS and PPS NAL units.
func (e *pcmEncoder) parameterSets() (sps, pps []byte) {
	return append([]byte(nil), e.sps...), append([]byte(nil), e.pps...)
}
